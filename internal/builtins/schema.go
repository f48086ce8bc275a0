// Package builtins ships the reference processor types used by the engine's
// own test suite and by cmd/graphd when no custom plugin is registered:
// an incrementing-integer source and a log-appending sink, matching the
// two-node pipeline scenario the engine is validated against. Grounded on
// the teacher's connector-plugin pattern (pkg/plugins), reworked from
// "parse a webhook payload" into "drive a streaming pipeline step".
package builtins

import "github.com/fluxcore/streamgraph/internal/message"

// IntSchema describes the single-field "counter.int.v1" message this
// package's source emits and its sink consumes.
var IntSchema = message.Schema{
	Name:    "counter.int",
	Version: message.Version{Major: 1, Minor: 0, Patch: 0},
	Fields: []message.Field{
		{Name: "value", Kind: message.FieldPrimitive, TypeName: "i64", Required: true},
		{Name: "index", Kind: message.FieldPrimitive, TypeName: "u64", Required: true},
	},
	Tag:        "counter.int.v1",
	Category:   message.Data,
	Discipline: message.Ordered,
}

// IntMessage is the concrete message.Message the source emits.
type IntMessage struct {
	Value int64
	Index uint64
}

func (IntMessage) Schema() message.Schema                    { return IntSchema }
func (IntMessage) Category() message.Category                { return message.Data }
func (IntMessage) PreferredDiscipline() message.Discipline    { return message.Ordered }
