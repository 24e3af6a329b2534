// internal/service/order/infrastructure/rule/cel_policy.go
package rule

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"tableside/internal/service/order/domain"
)

// CELPolicy 是 domain.Policy 的 CEL 实现。
// 每类边（前进 / 取消）一条布尔表达式，可用变量为 role、from、to。
type CELPolicy struct {
	programs map[domain.EdgeKind]cel.Program
}

// NewCELPolicy 编译两条表达式，表达式有语法错误或结果不是 bool 时返回错误。
func NewCELPolicy(forwardExpr, cancelExpr string) (*CELPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("role", cel.StringType),
		cel.Variable("from", cel.StringType),
		cel.Variable("to", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}

	p := &CELPolicy{programs: map[domain.EdgeKind]cel.Program{}}
	for kind, expr := range map[domain.EdgeKind]string{
		domain.EdgeForward: forwardExpr,
		domain.EdgeCancel:  cancelExpr,
	} {
		ast, iss := env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return nil, errors.Wrapf(iss.Err(), "compile %s policy", kind)
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, errors.Errorf("%s policy must evaluate to bool, got %s", kind, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, errors.Wrapf(err, "build %s policy program", kind)
		}
		p.programs[kind] = prg
	}
	return p, nil
}

// Allowed 实现了 domain.Policy 接口。不在状态图里的边一律拒绝。
func (p *CELPolicy) Allowed(from, to domain.Status, role domain.Role) (bool, error) {
	kind, ok := domain.ClassifyEdge(from, to)
	if !ok {
		return false, nil
	}
	out, _, err := p.programs[kind].Eval(map[string]interface{}{
		"role": string(role),
		"from": string(from),
		"to":   string(to),
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate %s policy", kind)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("%s policy returned %T", kind, out.Value())
	}
	return allowed, nil
}
