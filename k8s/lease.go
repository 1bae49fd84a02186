package k8s

import (
	"context"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// AcquireLease implements the reaper's election predicate against the
// cluster's coordination primitive. It returns true when this identity
// holds the lease after the call:
//
//   - no lease yet: create it as ours
//   - we already hold it: renew
//   - holder's renew time is older than the lease duration: steal
//   - otherwise: someone else holds a live lease
//
// The API server serializes concurrent attempts; a racing creator or
// updater loses with a conflict and reports false for this cycle.
func (c *Client) AcquireLease(ctx context.Context, name, identity string, durationSeconds int32) (bool, error) {
	now := metav1.NewMicroTime(time.Now())

	lease, err := c.cs.CoordinationV1().Leases(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if !IsNotFound(err) {
			return false, err
		}
		lease = &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: c.namespace,
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &identity,
				LeaseDurationSeconds: &durationSeconds,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		if _, err := c.cs.CoordinationV1().Leases(c.namespace).Create(ctx, lease, metav1.CreateOptions{}); err != nil {
			if IsAlreadyExists(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}

	holder := ""
	if lease.Spec.HolderIdentity != nil {
		holder = *lease.Spec.HolderIdentity
	}

	if holder == identity {
		lease.Spec.RenewTime = &now
		if _, err := c.cs.CoordinationV1().Leases(c.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
			if IsConflict(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}

	expired := lease.Spec.RenewTime == nil ||
		time.Since(lease.Spec.RenewTime.Time) > time.Duration(durationSeconds)*time.Second
	if !expired {
		return false, nil
	}

	lease.Spec.HolderIdentity = &identity
	lease.Spec.LeaseDurationSeconds = &durationSeconds
	lease.Spec.AcquireTime = &now
	lease.Spec.RenewTime = &now
	if _, err := c.cs.CoordinationV1().Leases(c.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
