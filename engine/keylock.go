/*
keylock.go - Striped per-(project, user, skill) mutual exclusion

PURPOSE:
  Mutations (apply event, approve/reject, expiration sweep) serialize on
  the aggregate being updated, not on a project-wide or global lock.
  Striping keeps the lock table bounded under multi-tenant load; two
  distinct keys may share a stripe, which costs a little contention but
  never correctness.
*/
package engine

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 128

type KeyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func NewKeyLocks() *KeyLocks {
	return &KeyLocks{}
}

// Lock acquires the stripe for (project, user, skill) and returns the
// unlock function.
func (k *KeyLocks) Lock(projectID ProjectID, userID UserID, skillID SkillID) func() {
	h := fnv.New32a()
	h.Write([]byte(projectID))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(skillID))
	m := &k.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
