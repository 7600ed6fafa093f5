package orchestrator

import (
	"github.com/speedrun-hq/linkrunner/pkg/models"
	"github.com/speedrun-hq/linkrunner/pkg/planner"
)

// ActionView is what callers get back: the action tree and the rounds still to submit
type ActionView struct {
	Action       *models.Action        `json:"action"`
	Intents      []*models.Intent      `json:"intents"`
	Transactions []*models.Transaction `json:"transactions"`
	Plan         [][]planner.Request   `json:"plan,omitempty"`
}

// Transaction returns the transaction with id, or nil
func (v *ActionView) Transaction(id string) *models.Transaction {
	for _, tx := range v.Transactions {
		if tx.ID == id {
			return tx
		}
	}
	return nil
}
