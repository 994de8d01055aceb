package compliance

import (
	"fmt"
	"math/big"
	"strings"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// NodeType tags an expression node. The numeric values are the on-chain enum.
type NodeType uint8

const (
	NodeTopic NodeType = 0
	NodeAnd   NodeType = 1
	NodeOr    NodeType = 2
	NodeNot   NodeType = 3
)

var nodeTypeNames = map[NodeType]string{
	NodeTopic: "TOPIC",
	NodeAnd:   "AND",
	NodeOr:    "OR",
	NodeNot:   "NOT",
}

func (t NodeType) String() string {
	if name, ok := nodeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("NodeType(%d)", uint8(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t NodeType) MarshalText() ([]byte, error) {
	name, ok := nodeTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown node type %d", uint8(t))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *NodeType) UnmarshalText(text []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(text)))
	for k, name := range nodeTypeNames {
		if name == s {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown node type %q", string(text))
}

// arity is the operand count of each node type.
func (t NodeType) arity() int {
	switch t {
	case NodeAnd, NodeOr:
		return 2
	case NodeNot:
		return 1
	default:
		return 0
	}
}

// Expression is a boolean expression tree over claim topics.
type Expression struct {
	Type     NodeType      `json:"type"`
	Topic    *big.Int      `json:"topic,omitempty"`
	Operands []*Expression `json:"operands,omitempty"`
}

// Topic returns a TOPIC leaf.
func Topic(id int64) *Expression {
	return &Expression{Type: NodeTopic, Topic: big.NewInt(id)}
}

// And returns AND(left, right).
func And(left, right *Expression) *Expression {
	return &Expression{Type: NodeAnd, Operands: []*Expression{left, right}}
}

// Or returns OR(left, right).
func Or(left, right *Expression) *Expression {
	return &Expression{Type: NodeOr, Operands: []*Expression{left, right}}
}

// Not returns NOT(operand).
func Not(operand *Expression) *Expression {
	return &Expression{Type: NodeNot, Operands: []*Expression{operand}}
}

// Validate checks operand arity and topic presence for the whole tree.
func (e *Expression) Validate() error {
	if e == nil {
		return malformed("missing operand")
	}
	if _, ok := nodeTypeNames[e.Type]; !ok {
		return malformed("unknown node type %d", uint8(e.Type))
	}
	if len(e.Operands) != e.Type.arity() {
		return malformed("%s takes %d operand(s), got %d", e.Type, e.Type.arity(), len(e.Operands))
	}
	if e.Type == NodeTopic {
		if !validTopic(e.Topic) {
			return malformed("TOPIC requires a uint256 topic id")
		}
		return nil
	}
	if e.Topic != nil {
		return malformed("%s must not carry a topic", e.Type)
	}
	for _, op := range e.Operands {
		if err := op.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate evaluates the tree directly. truth reports whether a topic holds.
func (e *Expression) Evaluate(truth func(topic *big.Int) bool) bool {
	switch e.Type {
	case NodeTopic:
		return truth(e.Topic)
	case NodeNot:
		return !e.Operands[0].Evaluate(truth)
	case NodeAnd:
		return e.Operands[0].Evaluate(truth) && e.Operands[1].Evaluate(truth)
	case NodeOr:
		return e.Operands[0].Evaluate(truth) || e.Operands[1].Evaluate(truth)
	}
	return false
}

func (e *Expression) String() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Type {
	case NodeTopic:
		return fmt.Sprintf("TOPIC(%s)", e.Topic)
	default:
		parts := make([]string, len(e.Operands))
		for i, op := range e.Operands {
			parts[i] = op.String()
		}
		return fmt.Sprintf("%s(%s)", e.Type, strings.Join(parts, ", "))
	}
}

// ExpressionNode is one element of the postfix sequence consumed on-chain.
// Value is the topic id for TOPIC and zero for operators.
type ExpressionNode struct {
	NodeType NodeType `json:"nodeType"`
	Value    *big.Int `json:"value"`
}

// Postfix flattens the tree by post-order traversal: operands first, operator last.
// A nil tree yields an empty sequence.
func Postfix(e *Expression) ([]ExpressionNode, error) {
	if e == nil {
		return nil, nil
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	var out []ExpressionNode
	var walk func(n *Expression)
	walk = func(n *Expression) {
		for _, op := range n.Operands {
			walk(op)
		}
		value := new(big.Int)
		if n.Type == NodeTopic {
			value.Set(n.Topic)
		}
		out = append(out, ExpressionNode{NodeType: n.Type, Value: value})
	}
	walk(e)
	return out, nil
}

// ValidatePostfix checks that nodes reduce to exactly one boolean on a stack machine.
func ValidatePostfix(nodes []ExpressionNode) error {
	depth := 0
	for i, n := range nodes {
		switch n.NodeType {
		case NodeTopic:
			if !validTopic(n.Value) {
				return malformed("node %d: TOPIC requires a uint256 topic id", i)
			}
			depth++
		case NodeNot:
			if depth < 1 {
				return malformed("node %d: NOT has no operand", i)
			}
		case NodeAnd, NodeOr:
			if depth < 2 {
				return malformed("node %d: %s needs two operands", i, n.NodeType)
			}
			depth--
		default:
			return malformed("node %d: unknown node type %d", i, uint8(n.NodeType))
		}
	}
	if len(nodes) > 0 && depth != 1 {
		return malformed("expression leaves %d values on the stack", depth)
	}
	return nil
}

// EvaluatePostfix runs the single-pass stack machine the compliance contract uses.
func EvaluatePostfix(nodes []ExpressionNode, truth func(topic *big.Int) bool) (bool, error) {
	if err := ValidatePostfix(nodes); err != nil {
		return false, err
	}
	if len(nodes) == 0 {
		return true, nil
	}
	stack := make([]bool, 0, len(nodes))
	for _, n := range nodes {
		switch n.NodeType {
		case NodeTopic:
			stack = append(stack, truth(n.Value))
		case NodeNot:
			stack[len(stack)-1] = !stack[len(stack)-1]
		case NodeAnd, NodeOr:
			b, a := stack[len(stack)-1], stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			if n.NodeType == NodeAnd {
				stack = append(stack, a && b)
			} else {
				stack = append(stack, a || b)
			}
		}
	}
	return stack[0], nil
}

// BuildTree rebuilds the expression tree from a postfix sequence.
func BuildTree(nodes []ExpressionNode) (*Expression, error) {
	if err := ValidatePostfix(nodes); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	stack := make([]*Expression, 0, len(nodes))
	for _, n := range nodes {
		switch n.NodeType {
		case NodeTopic:
			stack = append(stack, &Expression{Type: NodeTopic, Topic: new(big.Int).Set(n.Value)})
		case NodeNot:
			stack[len(stack)-1] = Not(stack[len(stack)-1])
		case NodeAnd, NodeOr:
			right, left := stack[len(stack)-1], stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			stack = append(stack, &Expression{Type: n.NodeType, Operands: []*Expression{left, right}})
		}
	}
	return stack[0], nil
}

// =============================================================================
// Infix conversion
// =============================================================================

// Infix token kinds besides the node types.
const (
	TokenLParen = "("
	TokenRParen = ")"
)

// InfixToken is one token of an expression as authored, e.g.
// TOPIC(1) AND ( TOPIC(2) OR NOT TOPIC(3) ).
type InfixToken struct {
	// Type is TOPIC, AND, OR, NOT, "(" or ")".
	Type  string   `json:"type"`
	Topic *big.Int `json:"topic,omitempty"`
}

func precedence(t NodeType) int {
	switch t {
	case NodeNot:
		return 3
	case NodeAnd:
		return 2
	case NodeOr:
		return 1
	}
	return 0
}

// InfixToPostfix converts authored infix tokens to postfix with the
// shunting-yard algorithm. Precedence is NOT > AND > OR; AND and OR are
// left-associative; NOT is a prefix operator.
func InfixToPostfix(tokens []InfixToken) ([]ExpressionNode, error) {
	var (
		out       []ExpressionNode
		ops       []string
		expectArg = true
	)

	popOp := func() {
		var t NodeType
		_ = t.UnmarshalText([]byte(ops[len(ops)-1]))
		ops = ops[:len(ops)-1]
		out = append(out, ExpressionNode{NodeType: t, Value: new(big.Int)})
	}

	for i, tok := range tokens {
		kind := strings.ToUpper(strings.TrimSpace(tok.Type))
		switch kind {
		case "TOPIC":
			if !expectArg {
				return nil, malformed("token %d: missing operator before TOPIC", i)
			}
			if !validTopic(tok.Topic) {
				return nil, malformed("token %d: TOPIC requires a uint256 topic id", i)
			}
			out = append(out, ExpressionNode{NodeType: NodeTopic, Value: new(big.Int).Set(tok.Topic)})
			expectArg = false
		case "NOT":
			if !expectArg {
				return nil, malformed("token %d: NOT must precede an operand", i)
			}
			ops = append(ops, kind)
		case "AND", "OR":
			if expectArg {
				return nil, malformed("token %d: %s is missing its left operand", i, kind)
			}
			var cur NodeType
			_ = cur.UnmarshalText([]byte(kind))
			for len(ops) > 0 && ops[len(ops)-1] != TokenLParen {
				var top NodeType
				_ = top.UnmarshalText([]byte(ops[len(ops)-1]))
				if precedence(top) < precedence(cur) {
					break
				}
				popOp()
			}
			ops = append(ops, kind)
			expectArg = true
		case TokenLParen:
			if !expectArg {
				return nil, malformed("token %d: missing operator before (", i)
			}
			ops = append(ops, TokenLParen)
		case TokenRParen:
			if expectArg {
				return nil, malformed("token %d: empty or incomplete group", i)
			}
			for len(ops) > 0 && ops[len(ops)-1] != TokenLParen {
				popOp()
			}
			if len(ops) == 0 {
				return nil, malformed("token %d: unbalanced )", i)
			}
			ops = ops[:len(ops)-1]
		default:
			return nil, malformed("token %d: unknown token %q", i, tok.Type)
		}
	}

	if len(tokens) > 0 && expectArg {
		return nil, malformed("expression ends without an operand")
	}
	for len(ops) > 0 {
		if ops[len(ops)-1] == TokenLParen {
			return nil, malformed("unbalanced (")
		}
		popOp()
	}
	if err := ValidatePostfix(out); err != nil {
		return nil, err
	}
	return out, nil
}

// validTopic reports whether v packs into a uint256 without wrapping.
func validTopic(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.BitLen() <= 256
}

func malformed(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.CodeMalformedExpression, format, args...)
}
