// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"fmt"
	"slices"

	"github.com/gomlx/kernelrt/pkg/core/dtypes"
	"github.com/gomlx/kernelrt/pkg/core/status"
)

// AttributeType enumerates the types of node attribute values.
type AttributeType int

const (
	AttrUndefined AttributeType = iota
	AttrInt
	AttrFloat
	AttrString
	AttrInts
	AttrFloats
	AttrStrings
)

var attributeTypeNames = []string{"undefined", "int", "float", "string", "ints", "floats", "strings"}

// String implements fmt.Stringer.
func (t AttributeType) String() string {
	if t < 0 || int(t) >= len(attributeTypeNames) {
		return fmt.Sprintf("AttributeType(%d)", int(t))
	}
	return attributeTypeNames[t]
}

// Attribute is a named static value of a graph node.
type Attribute struct {
	Name string
	Type AttributeType

	Int     int64
	Float   float32
	String  string
	Ints    []int64
	Floats  []float32
	Strings []string
}

// IntAttr creates an attribute holding an int.
func IntAttr(name string, value int64) Attribute {
	return Attribute{Name: name, Type: AttrInt, Int: value}
}

// IntsAttr creates an attribute holding a list of ints.
func IntsAttr(name string, values ...int64) Attribute {
	return Attribute{Name: name, Type: AttrInts, Ints: slices.Clone(values)}
}

// FloatAttr creates an attribute holding a float.
func FloatAttr(name string, value float32) Attribute {
	return Attribute{Name: name, Type: AttrFloat, Float: value}
}

// StringAttr creates an attribute holding a string.
func StringAttr(name, value string) Attribute {
	return Attribute{Name: name, Type: AttrString, String: value}
}

// Node is the graph-level description of an operator instance: its type, version, the names of its input
// and output values, and its attributes.
//
// It is immutable after creation, and shared by all kernels created for it.
type Node struct {
	name, opType, domain string
	version              int

	inputs, outputs []string
	inputTypes      []dtypes.DType
	attributes      map[string]Attribute
}

// NewNode creates a node for operator opType of the given domain ("" for the default) and version.
//
// inputs and outputs are names of values in the session. An empty input name means an omitted optional input.
func NewNode(name, opType, domain string, version int, inputs, outputs []string, attributes ...Attribute) *Node {
	n := &Node{
		name:       name,
		opType:     opType,
		domain:     domain,
		version:    version,
		inputs:     slices.Clone(inputs),
		outputs:    slices.Clone(outputs),
		attributes: make(map[string]Attribute, len(attributes)),
	}
	for _, attr := range attributes {
		n.attributes[attr.Name] = attr
	}
	return n
}

// WithInputTypes sets the declared types of the inputs, used to select among kernels with different type
// constraints. It returns the node itself, and must only be called before the node is shared.
func (n *Node) WithInputTypes(types ...dtypes.DType) *Node {
	n.inputTypes = slices.Clone(types)
	return n
}

// Name of the node, unique in the graph.
func (n *Node) Name() string { return n.name }

// OpType is the name of the operator.
func (n *Node) OpType() string { return n.opType }

// Domain of the operator.
func (n *Node) Domain() string { return n.domain }

// SinceVersion returns the operator version the node was created for.
func (n *Node) SinceVersion() int { return n.version }

// InputDefs returns the names of the input values. Omitted optional inputs have an empty name.
func (n *Node) InputDefs() []string { return n.inputs }

// OutputDefs returns the names of the output values.
func (n *Node) OutputDefs() []string { return n.outputs }

// InputTypes returns the declared input types, if known.
func (n *Node) InputTypes() []dtypes.DType { return n.inputTypes }

// InputExists returns whether input i was given (optional inputs may be omitted).
func (n *Node) InputExists(i int) bool {
	return i >= 0 && i < len(n.inputs) && n.inputs[i] != ""
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s v%d)", n.name, n.opType, n.version)
}

// HasAttr returns whether the node has the named attribute.
func (n *Node) HasAttr(name string) bool {
	_, found := n.attributes[name]
	return found
}

func (n *Node) getAttr(name string, attrType AttributeType) (Attribute, error) {
	attr, found := n.attributes[name]
	if !found {
		return attr, status.Errorf(status.NotFound, "node %s has no attribute %q", n, name)
	}
	if attr.Type != attrType {
		return attr, status.Errorf(status.InvalidArgument, "node %s attribute %q is of type %s, not %s", n, name, attr.Type, attrType)
	}
	return attr, nil
}

// GetAttrInt returns the value of an int attribute.
func (n *Node) GetAttrInt(name string) (int64, error) {
	attr, err := n.getAttr(name, AttrInt)
	return attr.Int, err
}

// GetAttrInts returns the value of an ints attribute.
func (n *Node) GetAttrInts(name string) ([]int64, error) {
	attr, err := n.getAttr(name, AttrInts)
	return slices.Clone(attr.Ints), err
}

// GetAttrIntsOr returns the value of an ints attribute, or defaultValue if it is not set or has a different type.
func (n *Node) GetAttrIntsOr(name string, defaultValue []int64) []int64 {
	values, err := n.GetAttrInts(name)
	if err != nil {
		return defaultValue
	}
	return values
}

// GetAttrFloat returns the value of a float attribute.
func (n *Node) GetAttrFloat(name string) (float32, error) {
	attr, err := n.getAttr(name, AttrFloat)
	return attr.Float, err
}

// GetAttrString returns the value of a string attribute.
func (n *Node) GetAttrString(name string) (string, error) {
	attr, err := n.getAttr(name, AttrString)
	return attr.String, err
}
