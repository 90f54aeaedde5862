package policy

import "sync"

// AuthenticatedPolicy names the policy satisfied by any authenticated caller.
const AuthenticatedPolicy = "Authenticated"

// Catalog is the default Fallback: explicitly registered policies plus one
// default policy, "authenticated, no specific permission", for any other name.
type Catalog struct {
	mu       sync.RWMutex
	policies map[string]Policy
	fallback Policy
}

// NewCatalog returns a catalog holding the default policy and AuthenticatedPolicy.
func NewCatalog() *Catalog {
	c := &Catalog{
		policies: make(map[string]Policy),
		fallback: Policy{Requirements: []Requirement{AuthenticatedRequirement{}}},
	}
	c.Add(AuthenticatedPolicy, AuthenticatedRequirement{})
	return c
}

// Add registers a named policy. Names match exactly.
func (c *Catalog) Add(name string, requirements ...Requirement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[name] = Policy{Name: name, Requirements: requirements}
}

// Policy implements Fallback.
func (c *Catalog) Policy(name string) Policy {
	c.mu.RLock()
	p, ok := c.policies[name]
	c.mu.RUnlock()
	if ok {
		return p
	}
	p = c.Default()
	p.Name = name
	return p
}

// Default returns the fallback policy.
func (c *Catalog) Default() Policy {
	return Policy{Requirements: append([]Requirement(nil), c.fallback.Requirements...)}
}
