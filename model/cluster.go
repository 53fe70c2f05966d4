package model

import "time"

// QualifiedMatch is a transient discovery result: a candidate within the
// discovery radius of the subject. Ordering key across a result set is
// (Accessible DESC, DistanceMeters ASC, CandidateID ASC).
type QualifiedMatch struct {
	SubjectID      string
	CandidateID    string
	DistanceMeters float64
	Accessible     bool
}

// ClusterStatus describes the lifecycle state of a cluster.
type ClusterStatus string

const (
	ClusterActive ClusterStatus = "ACTIVE"
)

// Cluster is a host plus its ordered neighbor membership, bounded by
// Capacity. Capacity is enforced at join time only; later changes to the
// discovery radius or road network never evict existing members.
type Cluster struct {
	ID        string
	HostID    string
	MemberIDs []string
	Capacity  int
	Status    ClusterStatus
	FormedAt  time.Time
}

// HasMember reports whether the neighbor is already a member.
func (c *Cluster) HasMember(neighborID string) bool {
	for _, id := range c.MemberIDs {
		if id == neighborID {
			return true
		}
	}
	return false
}

// Full reports whether the cluster has reached its join capacity.
func (c *Cluster) Full() bool {
	return len(c.MemberIDs) >= c.Capacity
}

// Clone returns a deep copy so callers can hold cluster snapshots without
// aliasing the registry's member slice.
func (c *Cluster) Clone() *Cluster {
	if c == nil {
		return nil
	}
	clone := *c
	clone.MemberIDs = append([]string(nil), c.MemberIDs...)
	return &clone
}
