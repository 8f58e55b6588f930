package memory

import (
	"context"
	"sort"
	"strings"

	"clmhub.io/internal/contracts"
)

func matchesSearch(c contracts.Contract, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	if strings.Contains(strings.ToLower(c.Title), needle) {
		return true
	}
	return c.CounterpartyName != nil && strings.Contains(strings.ToLower(*c.CounterpartyName), needle)
}

// ListContracts pages through one company's contracts, most recently updated first.
func (s *Store) ListContracts(_ context.Context, q contracts.ListQuery) ([]contracts.Contract, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []contracts.Contract
	for _, c := range s.contracts {
		if c.CompanyID != q.CompanyID {
			continue
		}
		if q.Status != "" && c.Status != q.Status {
			continue
		}
		if !matchesSearch(c, q.Search) {
			continue
		}
		matched = append(matched, c)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	total := len(matched)
	if q.Offset >= total {
		return []contracts.Contract{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return append([]contracts.Contract{}, matched[q.Offset:end]...), total, nil
}

// Contract returns a contract of the company.
func (s *Store) Contract(_ context.Context, companyID, id string) (contracts.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok || c.CompanyID != companyID {
		return contracts.Contract{}, contracts.ErrNotFound
	}
	return c, nil
}

// CreateContract inserts a contract.
func (s *Store) CreateContract(_ context.Context, c contracts.Contract) (contracts.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contracts[c.ID]; exists {
		return contracts.Contract{}, contracts.ErrConflict
	}
	if _, ok := s.companies[c.CompanyID]; !ok {
		return contracts.Contract{}, contracts.ErrNotFound
	}
	s.contracts[c.ID] = c
	return c, nil
}

// UpdateContractStatus sets the status of a company contract.
func (s *Store) UpdateContractStatus(_ context.Context, companyID, id, status string) (contracts.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok || c.CompanyID != companyID {
		return contracts.Contract{}, contracts.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = s.now().UTC()
	s.contracts[id] = c
	return c, nil
}

// ListVersions returns the versions of a company's contract, highest number first.
func (s *Store) ListVersions(_ context.Context, companyID, contractID string) ([]contracts.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contracts[contractID]; !ok || c.CompanyID != companyID {
		return []contracts.Version{}, nil
	}
	src := s.versions[contractID]
	out := make([]contracts.Version, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
	}
	return out, nil
}

// AppendVersion numbers v after the contract's latest version and copies its content
// onto the contract under the store lock.
func (s *Store) AppendVersion(_ context.Context, companyID string, v contracts.Version) (contracts.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[v.ContractID]
	if !ok || c.CompanyID != companyID {
		return contracts.Version{}, contracts.ErrNotFound
	}
	existing := s.versions[v.ContractID]
	v.VersionNumber = 1
	if n := len(existing); n > 0 {
		v.VersionNumber = existing[n-1].VersionNumber + 1
	}
	v.Status = c.Status
	s.versions[v.ContractID] = append(existing, v)

	c.Content = v.Content
	c.UpdatedAt = s.now().UTC()
	s.contracts[c.ID] = c
	return v, nil
}

// InsertDocument records an uploaded file. Storage paths are unique.
func (s *Store) InsertDocument(_ context.Context, d contracts.Document) (contracts.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[d.ContractID]
	if !ok || c.CompanyID != d.CompanyID {
		return contracts.Document{}, contracts.ErrNotFound
	}
	for _, existing := range s.documents {
		if existing.StorageBucket == d.StorageBucket && existing.StoragePath == d.StoragePath {
			return contracts.Document{}, contracts.ErrConflict
		}
	}
	s.documents = append(s.documents, d)
	return d, nil
}

// ListDocuments returns a contract's files, newest upload first.
func (s *Store) ListDocuments(_ context.Context, companyID, contractID string) ([]contracts.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []contracts.Document{}
	for _, d := range s.documents {
		if d.CompanyID == companyID && d.ContractID == contractID {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}
