package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/linkrunner/pkg/models"
	"github.com/speedrun-hq/linkrunner/pkg/planner"
)

const (
	testOrchestrator = "0x00000000000000000000000000000000000000aa"
	testAsset        = "0x00000000000000000000000000000000000000cc"
	testWallet       = "0x0000000000000000000000000000000000000001"
)

func planInput(t *testing.T) []byte {
	t.Helper()
	txs := []*models.Transaction{
		{
			ID:     "approve",
			State:  models.StateCreated,
			Origin: models.OriginWallet,
			Payload: models.NewApprovePayload(models.Approve{
				Asset: testAsset, Owner: testWallet, Spender: testOrchestrator, Amount: big.NewInt(10),
			}),
		},
		{
			ID:           "pull",
			State:        models.StateCreated,
			Origin:       models.OriginOrchestrator,
			Dependencies: []string{"approve"},
			Group:        1,
			Payload: models.NewDelegatedTransferPayload(models.DelegatedTransfer{
				Asset: testAsset, Owner: testWallet, Spender: testOrchestrator, To: testOrchestrator, Amount: big.NewInt(10),
			}),
		},
	}
	data, err := json.Marshal(txs)
	require.NoError(t, err)
	return data
}

func TestPlanCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetIn(bytes.NewReader(planInput(t)))
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"plan", "--orchestrator", testOrchestrator, "--action", "action-1", "--context", "link-1"})
	require.NoError(t, cmd.Execute())

	var rounds [][]planner.Request
	require.NoError(t, json.Unmarshal(out.Bytes(), &rounds))
	require.Len(t, rounds, 2)
	assert.Equal(t, planner.MethodApprove, rounds[0][0].Method)
	assert.Equal(t, testAsset, rounds[0][0].Target)
	assert.Equal(t, planner.MethodTrigger, rounds[1][0].Method)

	var args planner.TriggerArgs
	require.NoError(t, json.Unmarshal(rounds[1][0].Args, &args))
	assert.Equal(t, planner.TriggerArgs{ActionID: "action-1", ContextID: "link-1", TransactionID: "pull"}, args)
}

func TestPlanErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  planOptions
	}{
		{"bad orchestrator", "[]", planOptions{orchestrator: "nope"}},
		{"bad json", "{", planOptions{orchestrator: testOrchestrator}},
		{"unknown dependency", `[{"id":"a","state":"created","origin":"wallet","dependencies":["missing"],"payload":{"kind":"transfer","transfer":{"asset":"` + testAsset + `","from":"` + testWallet + `","to":"` + testOrchestrator + `","amount":1}}}]`, planOptions{orchestrator: testOrchestrator}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			err := printPlan(strings.NewReader(tt.input), &bytes.Buffer{}, &opts)
			assert.Error(t, err)
		})
	}
}

func TestPlanEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printPlan(strings.NewReader("[]"), &out, &planOptions{orchestrator: testOrchestrator}))
	assert.JSONEq(t, "[]", out.String())
}
