package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNodeData(t *testing.T) {
	tests := []struct {
		name     string
		node     *Node
		expected NodeData
		wantErr  error
	}{
		{
			name:     "start without data",
			node:     &Node{ID: "s", Type: NodeTypeStart},
			expected: StartData{},
		},
		{
			name:     "message",
			node:     &Node{ID: "m", Type: NodeTypeMessage, Data: json.RawMessage(`{"text":"aprovado"}`)},
			expected: MessageData{Text: "aprovado"},
		},
		{
			name:     "wait with amount and unit",
			node:     &Node{ID: "w", Type: NodeTypeWait, Data: json.RawMessage(`{"amount":2,"unit":"minutes"}`)},
			expected: WaitData{Amount: 2, Unit: "minutes"},
		},
		{
			name:     "condition tag",
			node:     &Node{ID: "c", Type: NodeTypeConditionTag, Data: json.RawMessage(`{"tag":"vip"}`)},
			expected: ConditionTagData{Tag: "vip"},
		},
		{
			name:    "unknown type",
			node:    &Node{ID: "x", Type: "webhook"},
			wantErr: ErrUnknownNodeType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := DecodeNodeData(tt.node)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, data)
			assert.Equal(t, tt.node.Type, data.NodeType())
		})
	}
}

func TestDecodeNodeData_MalformedPayload(t *testing.T) {
	_, err := DecodeNodeData(&Node{ID: "m", Type: NodeTypeMessage, Data: json.RawMessage(`{"text":1}`)})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "node m: invalid message payload")
}

func TestNewNode_RoundTrip(t *testing.T) {
	node, err := NewNode("b1", ButtonsData{
		Text:    "choose",
		Buttons: []Button{{ID: "yes", Title: "Yes", Type: ButtonTypeFlow}},
	})
	require.NoError(t, err)
	assert.Equal(t, NodeTypeButtons, node.Type)

	data, err := DecodeNodeData(node)
	require.NoError(t, err)
	assert.Equal(t, "choose", data.(ButtonsData).Text)
}

func TestWaitData_Delay(t *testing.T) {
	assert.Equal(t, 5*time.Second, WaitData{Duration: 5}.Delay())
	assert.Equal(t, 5*time.Second, WaitData{Duration: 5, Amount: 3, Unit: "hours"}.Delay())
	assert.Equal(t, 3*time.Hour, WaitData{Amount: 3, Unit: "hours"}.Delay())
	assert.Equal(t, 48*time.Hour, WaitData{Amount: 2, Unit: "days"}.Delay())
	assert.Equal(t, 7*time.Second, WaitData{Amount: 7}.Delay())
	assert.Zero(t, WaitData{}.Delay())
}

func TestFlowButtons(t *testing.T) {
	cards := CardsData{Cards: []Card{
		{Title: "a", Buttons: []Button{{ID: "site", Type: ButtonTypeURL, URL: "https://example.com"}, {ID: "a1", Type: ButtonTypeFlow}}},
		{Title: "b", Buttons: []Button{{ID: "b1", Type: ButtonTypeFlow}}},
	}}

	ids := []string{}
	for _, b := range FlowButtons(cards) {
		ids = append(ids, b.ID)
	}

	assert.Equal(t, []string{"a1", "b1"}, ids)
	assert.Empty(t, FlowButtons(MessageData{Text: "hi"}))
}

func TestCredential_ExpiresWithin(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	assert.True(t, (&Credential{ExpiresAt: now.Add(24 * time.Hour)}).ExpiresWithin(now, 48*time.Hour))
	assert.True(t, (&Credential{ExpiresAt: now.Add(48 * time.Hour)}).ExpiresWithin(now, 48*time.Hour))
	assert.False(t, (&Credential{ExpiresAt: now.Add(72 * time.Hour)}).ExpiresWithin(now, 48*time.Hour))
}

func TestAutomation_Runnable(t *testing.T) {
	deleted := time.Now()

	assert.True(t, (&Automation{Status: AutomationStatusPublished, IsActive: true}).Runnable())
	assert.False(t, (&Automation{Status: AutomationStatusPaused, IsActive: true}).Runnable())
	assert.False(t, (&Automation{Status: AutomationStatusPublished}).Runnable())
	assert.False(t, (&Automation{Status: AutomationStatusPublished, IsActive: true, DeletedAt: &deleted}).Runnable())
}
