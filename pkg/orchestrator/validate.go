package orchestrator

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/models"
)

// ActionRequest asks for a new action on a link.
// Wallet pays for CreateLink and Send and receives the funds of Receive and Withdraw.
type ActionRequest struct {
	Kind   models.ActionKind `json:"kind"`
	LinkID string            `json:"link_id"`
	Asset  string            `json:"asset"`
	Wallet string            `json:"wallet"`
	Amount *big.Int          `json:"amount"`
}

// validateRequest checks the shape of a request
func (s *Service) validateRequest(req ActionRequest) error {
	if _, err := models.ParseActionKind(string(req.Kind)); err != nil {
		return apperr.InvalidInput("kind", "%v", err)
	}
	if strings.TrimSpace(req.LinkID) == "" {
		return apperr.InvalidInput("link_id", "link id is required")
	}
	if !common.IsHexAddress(req.Asset) {
		return apperr.InvalidInput("asset", "invalid asset address %q", req.Asset)
	}
	if !s.assetSupported(req.Asset) {
		return apperr.Validation(req.Asset, "asset is not supported")
	}
	if !common.IsHexAddress(req.Wallet) {
		return apperr.InvalidInput("wallet", "invalid wallet address %q", req.Wallet)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return apperr.InvalidInput("amount", "amount must be greater than 0")
	}
	return nil
}

func (s *Service) assetSupported(asset string) bool {
	if len(s.cfg.Assets) == 0 {
		return true
	}
	for _, a := range s.cfg.Assets {
		if strings.EqualFold(a, asset) {
			return true
		}
	}
	return false
}

// checkLink enforces the link rules: a link is created once, by one identity, and other actions
// need it to exist; only its creator may withdraw from it.
func (s *Service) checkLink(ctx context.Context, caller string, req ActionRequest) error {
	existing, err := s.store.ActionsByLink(ctx, req.LinkID)
	if err != nil {
		return err
	}

	var created *models.Action
	for _, a := range existing {
		if a.Kind != models.ActionCreateLink {
			continue
		}
		if req.Kind == models.ActionCreateLink {
			if a.Creator == caller {
				return apperr.Validation(req.LinkID, "link already exists for this identity")
			}
			return apperr.Validation(req.LinkID, "link already exists")
		}
		if a.State == models.StateSuccess {
			created = a
		}
	}

	if req.Kind == models.ActionCreateLink {
		return nil
	}
	if created == nil {
		return apperr.Validation(req.LinkID, "link is not active")
	}
	if req.Kind == models.ActionWithdraw && created.Creator != caller {
		return apperr.Unauthorized(req.LinkID, "only the creator of the link may withdraw")
	}
	return nil
}
