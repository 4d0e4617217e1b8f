package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/formbridge/formbridge/webhooks"
)

// ReconcileOutcome summarizes one webhook delivery. It is always returned
// with a 200-level acknowledgement in mind: Airtable retries unacked
// deliveries, and a failure halfway through a batch must not replay the
// whole batch forever.
type ReconcileOutcome struct {
	BaseID         string
	TableID        string
	FormID         string
	FormMatched    bool
	CreatedSeen    int
	UpdatedApplied int
	UpdatedSkipped int
	DeletedMarked  int
	Failures       []string
}

// HandleNotification authenticates, decodes, and applies a webhook
// delivery. Signature and decode failures are returned as errors; per-record
// failures inside a batch are recorded on the outcome and do not abort the
// remaining records.
func (s *Service) HandleNotification(ctx context.Context, rawBody []byte, signatureHeader string) (ReconcileOutcome, error) {
	if s == nil {
		return ReconcileOutcome{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.now()

	outcome, err := s.handleNotification(ctx, rawBody, signatureHeader)
	s.observeOperation(ctx, startedAt, "webhook_reconcile", err, map[string]any{
		"base_id":  outcome.BaseID,
		"table_id": outcome.TableID,
		"form_id":  outcome.FormID,
	})
	if err != nil {
		return outcome, s.mapError(err)
	}
	return outcome, nil
}

func (s *Service) handleNotification(ctx context.Context, rawBody []byte, signatureHeader string) (ReconcileOutcome, error) {
	if err := s.verifySignature(ctx, rawBody, signatureHeader); err != nil {
		return ReconcileOutcome{}, err
	}

	notification, err := webhooks.ParseNotification(rawBody)
	if err != nil {
		return ReconcileOutcome{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	outcome := ReconcileOutcome{
		BaseID:  notification.ActionMetadata.BaseID,
		TableID: notification.ActionMetadata.TableID,
	}

	form, err := s.lookupForm(ctx, outcome.BaseID, outcome.TableID)
	if err != nil {
		if errors.Is(err, ErrFormNotFound) {
			// Deliveries for tables we never bound a form to are acked
			// and dropped, otherwise Airtable retries them forever.
			s.logInfo(ctx, "webhook for unbound table ignored", map[string]any{
				"base_id":  outcome.BaseID,
				"table_id": outcome.TableID,
			})
			return outcome, nil
		}
		return outcome, err
	}
	outcome.FormMatched = true
	outcome.FormID = form.ID

	s.applyCreated(ctx, form, notification, &outcome)
	s.applyChanged(ctx, form, notification, &outcome)
	s.applyDestroyed(ctx, notification, &outcome)

	return outcome, nil
}

func (s *Service) verifySignature(ctx context.Context, rawBody []byte, signatureHeader string) error {
	if s.webhookVerifier == nil {
		return nil
	}
	err := s.webhookVerifier.Verify(rawBody, signatureHeader)
	if err == nil {
		return nil
	}
	if s.config.Production() {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	// Outside production a bad MAC is logged but the delivery is still
	// processed, matching how the endpoint behaves before a subscription's
	// secret has been wired into the environment.
	s.logWarn(ctx, "webhook signature verification failed, processing anyway", map[string]any{
		"error": err.Error(),
	})
	return nil
}

func (s *Service) lookupForm(ctx context.Context, baseID, tableID string) (FormDefinition, error) {
	if s.formStore == nil {
		return FormDefinition{}, fmt.Errorf("core: form store is not configured")
	}
	return s.formStore.FindByTable(ctx, baseID, tableID)
}

// applyCreated only records that upstream created records exist. Records
// created outside the form flow have no local response to reconcile; the
// submission path remains the only writer of new responses.
func (s *Service) applyCreated(ctx context.Context, form FormDefinition, notification webhooks.Notification, outcome *ReconcileOutcome) {
	if len(notification.CreatedRecords) == 0 {
		return
	}
	outcome.CreatedSeen = len(notification.CreatedRecords)
	ids := make([]string, 0, len(notification.CreatedRecords))
	for recordID := range notification.CreatedRecords {
		ids = append(ids, recordID)
	}
	s.logInfo(ctx, "records created upstream", map[string]any{
		"form_id":    form.ID,
		"record_ids": ids,
	})
}

// applyChanged overwrites local answers with the authoritative record
// fetched from Airtable. The webhook fragment itself is never trusted as
// the new state.
func (s *Service) applyChanged(ctx context.Context, form FormDefinition, notification webhooks.Notification, outcome *ReconcileOutcome) {
	if len(notification.ChangedRecords) == 0 {
		return
	}
	if s.responseStore == nil || s.recordClient == nil {
		outcome.Failures = append(outcome.Failures, "change reconciliation is not configured")
		return
	}

	for recordID := range notification.ChangedRecords {
		response, err := s.responseStore.FindByAirtableRecord(ctx, recordID)
		if err != nil {
			if errors.Is(err, ErrResponseNotFound) {
				outcome.UpdatedSkipped++
				continue
			}
			outcome.Failures = append(outcome.Failures, recordID+": "+err.Error())
			continue
		}
		if response.DeletedInAirtable {
			outcome.UpdatedSkipped++
			continue
		}

		accessToken, err := s.accessTokenForOwner(ctx, form.OwnerID)
		if err != nil {
			outcome.Failures = append(outcome.Failures, recordID+": "+err.Error())
			continue
		}
		record, err := s.recordClient.GetRecord(ctx, accessToken, form.AirtableBaseID, form.AirtableTableID, recordID)
		if err != nil {
			outcome.Failures = append(outcome.Failures, recordID+": "+err.Error())
			continue
		}
		if err := s.responseStore.SetAnswers(ctx, response.ID, record.Fields, s.now()); err != nil {
			outcome.Failures = append(outcome.Failures, recordID+": "+err.Error())
			continue
		}
		outcome.UpdatedApplied++
		s.logInfo(ctx, "response updated from upstream record", map[string]any{
			"response_id": response.ID,
			"record_id":   recordID,
		})
	}
}

// applyDestroyed soft-deletes responses whose upstream records are gone.
// Unknown record ids are a no-op, which also makes redelivery idempotent.
func (s *Service) applyDestroyed(ctx context.Context, notification webhooks.Notification, outcome *ReconcileOutcome) {
	if len(notification.DestroyedIDs) == 0 {
		return
	}
	if s.responseStore == nil {
		outcome.Failures = append(outcome.Failures, "delete reconciliation is not configured")
		return
	}

	now := s.now()
	for _, recordID := range notification.DestroyedIDs {
		if err := s.responseStore.MarkDeletedInAirtable(ctx, recordID, now); err != nil {
			outcome.Failures = append(outcome.Failures, recordID+": "+err.Error())
			continue
		}
		outcome.DeletedMarked++
	}
}

func (s *Service) accessTokenForOwner(ctx context.Context, ownerID string) (string, error) {
	if s.credentialStore == nil {
		return "", fmt.Errorf("core: credential store is not configured")
	}
	credential, err := s.credentialStore.GetByUser(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return s.validAccessToken(ctx, credential.SubjectID)
}
