package credit

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Step is the closed sum of settlement actions a liquidation queue can
// carry. Dispatch is by type switch, so the per-step cost bound is visible
// statically; there is no open-ended virtual dispatch to hide behind.
type Step interface {
	stepKind() string
}

// RepayStep repays vault debt using the account's collateral balance of the
// vault denom. A nil Amount repays as much as the balance covers.
type RepayStep struct {
	Vault  string   `json:"vault"`
	Amount *big.Int `json:"amount,omitempty"`
}

func (RepayStep) stepKind() string { return "repay" }

// ExecuteStep runs an arbitrary settlement action (a swap, an unwind)
// through the host's step runner. Its effects are observed only through the
// post-step account reload.
type ExecuteStep struct {
	Target string          `json:"target"`
	Msg    json.RawMessage `json:"msg"`
}

func (ExecuteStep) stepKind() string { return "execute" }

type stepEnvelope struct {
	Kind    string       `json:"kind"`
	Repay   *RepayStep   `json:"repay,omitempty"`
	Execute *ExecuteStep `json:"execute,omitempty"`
}

// MarshalSteps encodes steps for storage and for the byte-budget check.
func MarshalSteps(steps []Step) ([]byte, error) {
	envs := make([]stepEnvelope, 0, len(steps))
	for _, s := range steps {
		switch st := s.(type) {
		case RepayStep:
			envs = append(envs, stepEnvelope{Kind: st.stepKind(), Repay: &st})
		case ExecuteStep:
			envs = append(envs, stepEnvelope{Kind: st.stepKind(), Execute: &st})
		default:
			return nil, fmt.Errorf("credit: unknown step type %T", s)
		}
	}
	return json.Marshal(envs)
}

// UnmarshalSteps decodes a stored or request-supplied step list.
func UnmarshalSteps(data []byte) ([]Step, error) {
	var envs []stepEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, err
	}
	steps := make([]Step, 0, len(envs))
	for i, env := range envs {
		switch {
		case env.Kind == "repay" && env.Repay != nil:
			steps = append(steps, *env.Repay)
		case env.Kind == "execute" && env.Execute != nil:
			steps = append(steps, *env.Execute)
		default:
			return nil, fmt.Errorf("credit: step %d: malformed kind %q", i, env.Kind)
		}
	}
	return steps, nil
}
