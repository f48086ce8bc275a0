package message_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxcore/streamgraph/internal/message"
)

func schemaV(major, minor int, fields ...message.Field) message.Schema {
	return message.Schema{
		Name:    "counter.int",
		Version: message.Version{Major: major, Minor: minor},
		Fields:  fields,
	}
}

func TestCompatibleRequiresMatchingName(t *testing.T) {
	producer := schemaV(1, 0)
	consumer := producer
	consumer.Name = "other.schema"
	require.False(t, message.Compatible(producer, consumer))
}

func TestCompatibleRequiresEqualMajor(t *testing.T) {
	producer := schemaV(2, 0)
	consumer := schemaV(1, 0)
	require.False(t, message.Compatible(producer, consumer))
}

func TestCompatibleAllowsProducerMinorAhead(t *testing.T) {
	producer := schemaV(1, 3)
	consumer := schemaV(1, 1)
	require.True(t, message.Compatible(producer, consumer))
}

func TestCompatibleRejectsProducerMinorBehind(t *testing.T) {
	producer := schemaV(1, 0)
	consumer := schemaV(1, 2)
	require.False(t, message.Compatible(producer, consumer))
}

func TestCompatibleRequiresRequiredFieldCoverage(t *testing.T) {
	consumer := schemaV(1, 0, message.Field{Name: "value", Kind: message.FieldPrimitive, TypeName: "i64", Required: true})
	producerMissing := schemaV(1, 0)
	require.False(t, message.Compatible(producerMissing, consumer))

	producerMismatchedType := schemaV(1, 0, message.Field{Name: "value", Kind: message.FieldPrimitive, TypeName: "f32", Required: true})
	require.False(t, message.Compatible(producerMismatchedType, consumer))

	producerOK := schemaV(1, 0, message.Field{Name: "value", Kind: message.FieldPrimitive, TypeName: "i64", Required: true})
	require.True(t, message.Compatible(producerOK, consumer))
}

func TestCompatibleIgnoresOptionalConsumerFields(t *testing.T) {
	consumer := schemaV(1, 0, message.Field{Name: "extra", Kind: message.FieldPrimitive, TypeName: "i64", Required: false})
	producer := schemaV(1, 0)
	require.True(t, message.Compatible(producer, consumer))
}

func TestSchemaRegistryRegisterAndLookup(t *testing.T) {
	reg := message.NewSchemaRegistry()
	s := schemaV(1, 0)
	reg.Register(s)

	got, ok := reg.Lookup("counter.int")
	require.True(t, ok)
	require.Equal(t, s, got)

	_, ok = reg.Lookup("missing.schema")
	require.False(t, ok)
}
