// Package registry builds the fixed ring of accounts the keeper maintains.
package registry

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"VaultKeeper/internal/model"
)

// Lookup resolves a credential key (e.g. ADR_3) to its value.
type Lookup func(key string) (string, bool)

// EnvLookup resolves keys from the process environment.
func EnvLookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && strings.TrimSpace(v) != ""
}

// MapLookup resolves keys from a fixed map.
func MapLookup(m map[string]string) Lookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok && strings.TrimSpace(v) != ""
	}
}

// Source names the keys holding each account's address and credential handle.
type Source struct {
	AddressPrefix    string
	CredentialPrefix string
	Lookup           Lookup
}

// DefaultSource reads ADR_<i> and PVK_<i> from the environment.
func DefaultSource() Source {
	return Source{AddressPrefix: "ADR_", CredentialPrefix: "PVK_", Lookup: EnvLookup}
}

// BuildRing builds n accounts indexed 1..n. Each account's downline is the next
// index (n wraps to 1) and its referrer the previous one (1 wraps to n).
func BuildRing(n int, src Source) ([]model.Account, error) {
	if n < 2 {
		return nil, model.NewConfigError("accounts.count", "need at least 2 accounts, got %d", n)
	}
	if src.Lookup == nil {
		src.Lookup = EnvLookup
	}

	ids := make([]string, n+1)
	creds := make([]string, n+1)
	seen := make(map[string]int, n)
	for i := 1; i <= n; i++ {
		addrKey := src.AddressPrefix + strconv.Itoa(i)
		id, ok := src.Lookup(addrKey)
		if !ok {
			return nil, model.NewConfigError(addrKey, "address for account %d is missing", i)
		}
		credKey := src.CredentialPrefix + strconv.Itoa(i)
		cred, ok := src.Lookup(credKey)
		if !ok {
			return nil, model.NewConfigError(credKey, "credential for account %d is missing", i)
		}
		id = strings.TrimSpace(id)
		if prev, dup := seen[strings.ToLower(id)]; dup {
			return nil, model.NewConfigError(addrKey, "address duplicates account %d", prev)
		}
		seen[strings.ToLower(id)] = i
		ids[i] = id
		creds[i] = cred
	}

	accounts := make([]model.Account, 0, n)
	for i := 1; i <= n; i++ {
		accounts = append(accounts, model.Account{
			Index:      i,
			ID:         ids[i],
			Credential: creds[i],
			Referrer:   ids[prev(i, n)],
			Downline:   ids[next(i, n)],
		})
	}
	if err := VerifyRing(accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func next(i, n int) int {
	if i == n {
		return 1
	}
	return i + 1
}

func prev(i, n int) int {
	if i == 1 {
		return n
	}
	return i - 1
}

// VerifyRing checks that the downline links form exactly one simple cycle over
// all accounts and that referrer links are their inverse.
func VerifyRing(accounts []model.Account) error {
	n := len(accounts)
	if n < 2 {
		return model.NewConfigError("accounts", "ring needs at least 2 accounts, got %d", n)
	}
	byID := make(map[string]model.Account, n)
	for _, a := range accounts {
		if a.Downline == a.ID || a.Referrer == a.ID {
			return fmt.Errorf("account %d links to itself", a.Index)
		}
		byID[a.ID] = a
	}
	if len(byID) != n {
		return fmt.Errorf("ring has duplicate account ids")
	}
	for _, a := range accounts {
		down, ok := byID[a.Downline]
		if !ok {
			return fmt.Errorf("account %d: downline %s is not in the ring", a.Index, a.Downline)
		}
		if down.Referrer != a.ID {
			return fmt.Errorf("account %d: downline %d does not refer back", a.Index, down.Index)
		}
	}

	visited := make(map[string]bool, n)
	cur := accounts[0]
	for step := 0; step < n; step++ {
		if visited[cur.ID] {
			return fmt.Errorf("sub-cycle of length %d found at account %d", step, cur.Index)
		}
		visited[cur.ID] = true
		cur = byID[cur.Downline]
	}
	if cur.ID != accounts[0].ID {
		return fmt.Errorf("downline walk does not return to account %d after %d steps", accounts[0].Index, n)
	}
	return nil
}
