package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrUnknownNodeType = errors.New("unknown node type")

// NodeData is the typed payload of a node. The set of implementations is closed;
// consumers dispatch with a type switch.
type NodeData interface {
	NodeType() NodeType
	sealed()
}

type ButtonType string

const (
	ButtonTypeURL  ButtonType = "url"  // Opens URL
	ButtonTypeFlow ButtonType = "flow" // Advances the flow along the edge whose handle is the button ID
)

type Button struct {
	ID    string     `json:"id"    validate:"required"`
	Title string     `json:"title" validate:"required,max=20"`
	Type  ButtonType `json:"type"  validate:"required,oneof=url flow"`
	URL   string     `json:"url,omitempty" validate:"required_if=Type url,omitempty,url"`
}

type Card struct {
	Title    string   `json:"title"               validate:"required,max=80"`
	Subtitle string   `json:"subtitle,omitempty"  validate:"max=80"`
	ImageURL string   `json:"image_url,omitempty" validate:"omitempty,url"`
	Buttons  []Button `json:"buttons,omitempty"   validate:"max=3,dive"`
}

type StartData struct{}

type MessageData struct {
	Text string `json:"text" validate:"required,max=1000"`
}

type ButtonsData struct {
	Text    string   `json:"text"    validate:"required,max=640"`
	Buttons []Button `json:"buttons" validate:"required,min=1,max=3,dive"`
}

type CardsData struct {
	Cards []Card `json:"cards" validate:"required,min=1,max=10,dive"`
}

// WaitData configures a delay either as Duration seconds or as Amount of Unit.
type WaitData struct {
	Duration int    `json:"duration,omitempty" validate:"gte=0"`
	Amount   int    `json:"amount,omitempty"   validate:"gte=0"`
	Unit     string `json:"unit,omitempty"     validate:"omitempty,oneof=seconds minutes hours days"`
}

type AddTagData struct {
	Tag string `json:"tag" validate:"required"`
}

type RemoveTagData struct {
	Tag string `json:"tag" validate:"required"`
}

type ConditionTagData struct {
	Tag string `json:"tag" validate:"required"`
}

func (StartData) NodeType() NodeType        { return NodeTypeStart }
func (MessageData) NodeType() NodeType      { return NodeTypeMessage }
func (ButtonsData) NodeType() NodeType      { return NodeTypeButtons }
func (CardsData) NodeType() NodeType        { return NodeTypeCards }
func (WaitData) NodeType() NodeType         { return NodeTypeWait }
func (AddTagData) NodeType() NodeType       { return NodeTypeAddTag }
func (RemoveTagData) NodeType() NodeType    { return NodeTypeRemoveTag }
func (ConditionTagData) NodeType() NodeType { return NodeTypeConditionTag }

func (StartData) sealed()        {}
func (MessageData) sealed()      {}
func (ButtonsData) sealed()      {}
func (CardsData) sealed()        {}
func (WaitData) sealed()         {}
func (AddTagData) sealed()       {}
func (RemoveTagData) sealed()    {}
func (ConditionTagData) sealed() {}

// Delay returns the configured wait. Duration takes precedence over Amount/Unit.
func (w WaitData) Delay() time.Duration {
	if w.Duration > 0 {
		return time.Duration(w.Duration) * time.Second
	}

	unit := time.Second

	switch w.Unit {
	case "minutes":
		unit = time.Minute
	case "hours":
		unit = time.Hour
	case "days":
		unit = 24 * time.Hour
	}

	return time.Duration(w.Amount) * unit
}

// FlowButtons returns the buttons that advance the flow, across every card for cards nodes.
func FlowButtons(data NodeData) []Button {
	var buttons []Button

	switch d := data.(type) {
	case ButtonsData:
		buttons = d.Buttons
	case CardsData:
		for _, card := range d.Cards {
			buttons = append(buttons, card.Buttons...)
		}
	}

	flow := make([]Button, 0, len(buttons))

	for _, b := range buttons {
		if b.Type == ButtonTypeFlow {
			flow = append(flow, b)
		}
	}

	return flow
}

// DecodeNodeData unmarshals the node payload into the variant matching its type.
func DecodeNodeData(node *Node) (NodeData, error) {
	var (
		data NodeData
		err  error
	)

	switch node.Type {
	case NodeTypeStart:
		return StartData{}, nil
	case NodeTypeMessage:
		data, err = decode[MessageData](node.Data)
	case NodeTypeButtons:
		data, err = decode[ButtonsData](node.Data)
	case NodeTypeCards:
		data, err = decode[CardsData](node.Data)
	case NodeTypeWait:
		data, err = decode[WaitData](node.Data)
	case NodeTypeAddTag:
		data, err = decode[AddTagData](node.Data)
	case NodeTypeRemoveTag:
		data, err = decode[RemoveTagData](node.Data)
	case NodeTypeConditionTag:
		data, err = decode[ConditionTagData](node.Data)
	default:
		return nil, fmt.Errorf("node %s: %w: %q", node.ID, ErrUnknownNodeType, node.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("node %s: invalid %s payload: %w", node.ID, node.Type, err)
	}

	return data, nil
}

func decode[T NodeData](raw json.RawMessage) (T, error) {
	var v T

	if len(raw) == 0 {
		return v, nil
	}

	err := json.Unmarshal(raw, &v)

	return v, err
}

// NewNode builds a node carrying the given payload.
func NewNode(id string, data NodeData) (*Node, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Node{ID: id, Type: data.NodeType(), Data: raw}, nil
}
