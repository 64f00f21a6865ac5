package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veriflow/backend/internal/core"
	"github.com/veriflow/backend/internal/providers"
)

// DataAcquisition is the first workflow step. It pulls external
// identifiers, calls providers, and persists everything downstream
// agents read, keyed by data type. Agents never re-fetch upstream
// records; this is the only place provider snapshots are taken.
type DataAcquisition struct {
	env *Env
}

// NewDataAcquisition builds the acquisition agent.
func NewDataAcquisition(env *Env) *DataAcquisition { return &DataAcquisition{env: env} }

func (a *DataAcquisition) Type() string { return core.AgentDataAcquisition }

func (a *DataAcquisition) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	data := map[string]map[string]interface{}{}

	if t.UserID != "" {
		data[core.DataTypeUser] = a.acquireUser(ctx, t.UserID)
	}
	if t.BusinessID != "" {
		data[core.DataTypeBusiness] = a.acquireBusiness(ctx, t.BusinessID)
	}
	if len(t.AdditionalData) > 0 {
		data[core.DataTypeAdditionalData] = t.AdditionalData
	}

	for dataType, payload := range data {
		if err := a.env.Store.AppendInput(ctx, t.VerificationID, dataType, payload); err != nil {
			return nil, fmt.Errorf("persist %s input: %w", dataType, err)
		}
	}

	return successResult(a.Type(), "Successfully acquired data from all sources", []core.Check{}), nil
}

// acquireUser assembles the "user" input: external identifiers, the
// provider inquiry, and fraud scores. Partial provider failures still
// yield a basic payload so the workflow can continue.
func (a *DataAcquisition) acquireUser(ctx context.Context, userID string) map[string]interface{} {
	inquiryID, err := a.env.External.GetInquiryID(ctx, userID, "kyc")
	if err != nil {
		slog.Error("inquiry id lookup failed", "user_id", userID, "error", err)
		return map[string]interface{}{
			"user_data":    map[string]interface{}{"user_id": userID},
			"persona_data": map[string]interface{}{},
			"sift_data":    map[string]interface{}{},
		}
	}

	personaData := providers.Payload{}
	if inquiryID != "" {
		if personaData, err = a.env.Identity.GetInquiry(ctx, inquiryID); err != nil {
			slog.Error("inquiry fetch failed", "inquiry_id", inquiryID, "error", err)
			personaData = providers.Payload{}
		}
	}

	return map[string]interface{}{
		"user_data": map[string]interface{}{
			"user_id":            userID,
			"persona_inquiry_id": inquiryID,
		},
		"persona_data": personaData,
		"sift_data":    a.fraudScores(ctx, userID),
	}
}

// fraudScores prefers the snapshot in the external record store and
// falls back to a live provider call.
func (a *DataAcquisition) fraudScores(ctx context.Context, userID string) providers.Payload {
	scores, err := a.env.External.GetFraudScores(ctx, userID)
	if err != nil {
		slog.Warn("stored fraud scores unavailable", "user_id", userID, "error", err)
	}
	if scores != nil {
		return scores
	}
	if a.env.Fraud == nil {
		return providers.Payload{}
	}
	scores, err = a.env.Fraud.GetUserScore(ctx, userID)
	if err != nil {
		slog.Warn("live fraud score unavailable", "user_id", userID, "error", err)
		return providers.Payload{}
	}
	return scores
}

// acquireBusiness assembles the "business" input: the external
// business record merged with provider business fields, plus a nested
// ubos array carrying each owner's own identifiers and inquiry data.
func (a *DataAcquisition) acquireBusiness(ctx context.Context, businessID string) map[string]interface{} {
	minimal := map[string]interface{}{
		"business_data": map[string]interface{}{"business_id": businessID},
		"ubos":          []interface{}{},
	}

	record, err := a.env.External.GetBusinessRecord(ctx, businessID)
	if err != nil || record == nil {
		slog.Warn("business record not found", "business_id", businessID, "error", err)
		return minimal
	}

	userID, _ := record["user_id"].(string)
	if userID == "" {
		slog.Warn("business record has no user id", "business_id", businessID)
		businessData := map[string]interface{}{"business_id": businessID}
		for k, v := range record {
			businessData[k] = v
		}
		return map[string]interface{}{
			"business_data": businessData,
			"ubos":          []interface{}{},
		}
	}

	inquiryID, err := a.env.External.GetInquiryID(ctx, userID, "kyb")
	if err != nil {
		slog.Warn("business inquiry id lookup failed", "user_id", userID, "error", err)
	}

	personaData := providers.Payload{}
	businessInfo := providers.Payload{}
	if inquiryID != "" {
		if personaData, err = a.env.Identity.GetInquiry(ctx, inquiryID); err != nil {
			slog.Error("business inquiry fetch failed", "inquiry_id", inquiryID, "error", err)
			personaData = providers.Payload{}
		} else {
			extracted := a.env.Identity.ExtractBusinessInfo(personaData)
			businessInfo = asMap(extracted["business_info"])
		}
	}

	businessData := map[string]interface{}{
		"business_id":        businessID,
		"user_id":            userID,
		"persona_inquiry_id": inquiryID,
	}
	for k, v := range record {
		businessData[k] = v
	}
	for k, v := range businessInfo {
		businessData[k] = v
	}

	return map[string]interface{}{
		"business_data": businessData,
		"persona_data":  personaData,
		"ubos":          a.acquireUbos(ctx, businessID),
	}
}

// acquireUbos fetches each beneficial owner's inquiry and fraud data.
// Owners without a usable user id are skipped with a warning.
func (a *DataAcquisition) acquireUbos(ctx context.Context, businessID string) []interface{} {
	owners, err := a.env.External.GetBusinessOwners(ctx, businessID)
	if err != nil {
		slog.Error("business owners lookup failed", "business_id", businessID, "error", err)
		return []interface{}{}
	}

	ubos := make([]interface{}, 0, len(owners))
	for _, owner := range owners {
		ownerID, _ := owner["user_id"].(string)
		if ownerID == "" {
			ownerID, _ = owner["created_for_id"].(string)
		}
		if ownerID == "" {
			slog.Warn("UBO record has no user id, skipping", "business_id", businessID)
			continue
		}

		ownerInquiryID, err := a.env.External.GetInquiryID(ctx, ownerID, "kyc")
		if err != nil {
			slog.Warn("UBO inquiry id lookup failed", "user_id", ownerID, "error", err)
		}
		ownerPersona := providers.Payload{}
		if ownerInquiryID != "" {
			if ownerPersona, err = a.env.Identity.GetInquiry(ctx, ownerInquiryID); err != nil {
				slog.Warn("UBO inquiry fetch failed", "inquiry_id", ownerInquiryID, "error", err)
				ownerPersona = providers.Payload{}
			}
		}

		ubos = append(ubos, map[string]interface{}{
			"ubo_info": owner,
			"kyc_data": map[string]interface{}{
				"user_data": map[string]interface{}{
					"user_id":            ownerID,
					"persona_inquiry_id": ownerInquiryID,
				},
				"persona_data": ownerPersona,
				"sift_data":    a.fraudScores(ctx, ownerID),
			},
		})
	}
	return ubos
}
