package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ogabrielsv/creatye/pkg/models"
)

var (
	ErrStartNodeRequired  = errors.New("graph must have a start node")
	ErrMultipleStartNodes = errors.New("graph must have exactly one start node")
	ErrDuplicateNodeID    = errors.New("duplicate node id")
	ErrEmptyNodeID        = errors.New("node id is required")
	ErrInvalidPayload     = errors.New("invalid node payload")
	ErrDanglingEdge       = errors.New("edge references unknown node")
	ErrEdgeIntoStart      = errors.New("edge cannot target the start node")
	ErrAmbiguousEdge      = errors.New("ambiguous outgoing edges")
	ErrInvalidHandle      = errors.New("invalid source handle")
	ErrCycle              = errors.New("graph contains a cycle")
)

// ValidationError collects every problem found in a graph.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}

	return "invalid graph: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

type validation struct {
	problems []error
}

func (v *validation) add(err error, format string, args ...any) {
	if format == "" {
		v.problems = append(v.problems, err)

		return
	}

	v.problems = append(v.problems, fmt.Errorf("%w: "+format, append([]any{err}, args...)...))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a draft graph before it is frozen into a version: one start node,
// well-formed payloads, edges between known nodes, unambiguous routing and no cycles.
func Validate(nodes []*models.Node, edges []*models.Edge) error {
	v := &validation{}

	byID := make(map[string]*models.Node, len(nodes))
	payloads := make(map[string]models.NodeData, len(nodes))
	starts := 0

	for _, node := range nodes {
		if node.ID == "" {
			v.add(ErrEmptyNodeID, "")

			continue
		}

		if _, exists := byID[node.ID]; exists {
			v.add(ErrDuplicateNodeID, "%s", node.ID)

			continue
		}

		byID[node.ID] = node

		if node.Type == models.NodeTypeStart {
			starts++
		}

		data, err := models.DecodeNodeData(node)
		if err != nil {
			v.add(ErrInvalidPayload, "%w", err)

			continue
		}

		err = validate.Struct(data)
		if err != nil {
			v.add(ErrInvalidPayload, "node %s: %v", node.ID, err)

			continue
		}

		payloads[node.ID] = data
	}

	switch {
	case starts == 0:
		v.add(ErrStartNodeRequired, "")
	case starts > 1:
		v.add(ErrMultipleStartNodes, "found %d", starts)
	}

	handles := make(map[string]map[string]bool)

	for _, edge := range edges {
		source, sourceOK := byID[edge.Source]
		target, targetOK := byID[edge.Target]

		if !sourceOK || !targetOK {
			v.add(ErrDanglingEdge, "edge %s (%s -> %s)", edge.ID, edge.Source, edge.Target)

			continue
		}

		if target.Type == models.NodeTypeStart {
			v.add(ErrEdgeIntoStart, "edge %s", edge.ID)
		}

		if handles[source.ID] == nil {
			handles[source.ID] = make(map[string]bool)
		}

		if handles[source.ID][edge.SourceHandle] {
			v.add(ErrAmbiguousEdge, "node %s has several edges with handle %q", source.ID, edge.SourceHandle)
		}

		handles[source.ID][edge.SourceHandle] = true

		checkHandle(v, source, payloads[source.ID], edge)
	}

	if hasCycle(nodes, edges) {
		v.add(ErrCycle, "")
	}

	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}

	return nil
}

func checkHandle(v *validation, source *models.Node, data models.NodeData, edge *models.Edge) {
	switch data.(type) {
	case models.ConditionTagData:
		if edge.SourceHandle != models.HandleTrue && edge.SourceHandle != models.HandleFalse {
			v.add(ErrInvalidHandle, "condition node %s edge %s must use %q or %q",
				source.ID, edge.ID, models.HandleTrue, models.HandleFalse)
		}
	case models.ButtonsData, models.CardsData:
		if edge.SourceHandle == "" {
			return
		}

		for _, b := range models.FlowButtons(data) {
			if b.ID == edge.SourceHandle {
				return
			}
		}

		v.add(ErrInvalidHandle, "node %s edge %s handle %q matches no flow button", source.ID, edge.ID, edge.SourceHandle)
	case nil:
		// payload already reported
	default:
		if edge.SourceHandle != "" {
			v.add(ErrInvalidHandle, "node %s (%s) cannot branch, edge %s has handle %q",
				source.ID, source.Type, edge.ID, edge.SourceHandle)
		}
	}
}

func hasCycle(nodes []*models.Node, edges []*models.Edge) bool {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]int, len(nodes))

	var dfs func(id string) bool
	dfs = func(id string) bool {
		state[id] = visiting

		for _, next := range adj[id] {
			switch state[next] {
			case visiting:
				return true
			case unvisited:
				if dfs(next) {
					return true
				}
			}
		}

		state[id] = visited

		return false
	}

	for _, n := range nodes {
		if state[n.ID] == unvisited && dfs(n.ID) {
			return true
		}
	}

	return false
}
