package memory

import (
	"context"
	"sort"
	"time"

	"clmhub.io/internal/signature"
)

// CreateEnvelope stores the envelope with its recipients and events and marks the
// contract pending signature.
func (s *Store) CreateEnvelope(_ context.Context, env signature.Envelope, recipients []signature.Recipient, events []signature.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[env.ContractID]
	if !ok || c.CompanyID != env.CompanyID {
		return signature.ErrNotFound
	}
	s.envelopes[env.ID] = env
	for _, r := range recipients {
		s.recipients[r.ID] = r
	}
	s.sigEvents = append(s.sigEvents, events...)

	status := signature.EnvelopePendingSignature
	c.SignatureStatus = &status
	s.contracts[c.ID] = c
	return nil
}

// RecipientForUser finds the caller's recipient row on an envelope of the company.
func (s *Store) RecipientForUser(_ context.Context, companyID, envelopeID, userID string) (signature.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recipients {
		if r.CompanyID == companyID && r.EnvelopeID == envelopeID && r.UserID != nil && *r.UserID == userID {
			return r, nil
		}
	}
	return signature.Recipient{}, signature.ErrNotFound
}

// MarkRecipientSigned flips an unsigned recipient to signed.
func (s *Store) MarkRecipientSigned(_ context.Context, recipientID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[recipientID]
	if !ok {
		return false, signature.ErrNotFound
	}
	if r.Status == signature.RecipientSigned {
		return false, nil
	}
	r.Status = signature.RecipientSigned
	r.SignedAt = &at
	s.recipients[recipientID] = r
	return true, nil
}

// AppendEvent appends an envelope event.
func (s *Store) AppendEvent(_ context.Context, evt signature.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sigEvents = append(s.sigEvents, evt)
	return nil
}

// CompleteEnvelope marks the envelope fully signed once every recipient has signed.
func (s *Store) CompleteEnvelope(_ context.Context, companyID, envelopeID string, at time.Time, evt signature.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envelopes[envelopeID]
	if !ok || env.CompanyID != companyID {
		return false, signature.ErrNotFound
	}
	if env.Status == signature.EnvelopeFullySigned {
		return false, nil
	}
	for _, r := range s.recipients {
		if r.EnvelopeID == envelopeID && r.Status != signature.RecipientSigned {
			return false, nil
		}
	}
	env.Status = signature.EnvelopeFullySigned
	env.CompletedAt = &at
	s.envelopes[envelopeID] = env
	s.sigEvents = append(s.sigEvents, evt)
	return true, nil
}

// Envelope returns an envelope of the company.
func (s *Store) Envelope(_ context.Context, companyID, envelopeID string) (signature.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envelopes[envelopeID]
	if !ok || env.CompanyID != companyID {
		return signature.Envelope{}, signature.ErrNotFound
	}
	return env, nil
}

// ListTasks returns the user's unsigned recipients with their envelope, newest first.
func (s *Store) ListTasks(_ context.Context, companyID, userID string) ([]signature.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []signature.Task{}
	for _, r := range s.recipients {
		if r.CompanyID != companyID || r.UserID == nil || *r.UserID != userID || r.Status == signature.RecipientSigned {
			continue
		}
		env := s.envelopes[r.EnvelopeID]
		out = append(out, signature.Task{
			RecipientID:     r.ID,
			EnvelopeID:      r.EnvelopeID,
			RecipientStatus: r.Status,
			EnvelopeStatus:  env.Status,
			ContractID:      env.ContractID,
			CreatedAt:       env.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SignatureEvents returns the events recorded for an envelope, oldest first.
func (s *Store) SignatureEvents(envelopeID string) []signature.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []signature.Event
	for _, e := range s.sigEvents {
		if e.EnvelopeID == envelopeID {
			out = append(out, e)
		}
	}
	return out
}
