package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartsaga/internal/cart"
	"cartsaga/internal/checkout"
)

type script struct {
	payment  []error
	shipping []error
	reverse  []error
}

func (s script) client() *checkout.ScriptedStepClient {
	return checkout.NewScriptedStepClient().
		Script(checkout.StepPayment, s.payment...).
		Script(checkout.StepShipping, s.shipping...).
		ScriptReverse(s.reverse...)
}

func repeat(err error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}

// Both strategies must give the same result and leave the cart in the same
// state for the same sequence of step outcomes.
func TestStrategies_ProduceIdenticalResults(t *testing.T) {
	payDown := stepFailure(checkout.StepPayment)
	shipDown := stepFailure(checkout.StepShipping)
	scenarios := map[string]script{
		"all succeed":              {},
		"payment fails":            {payment: repeat(payDown, 3)},
		"payment recovers":         {payment: repeat(payDown, 2)},
		"shipping fails":           {shipping: repeat(shipDown, 3)},
		"shipping transport fault": {shipping: repeat(errors.New("connection reset"), 3)},
		"shipping recovers":        {shipping: repeat(shipDown, 2)},
		"reversal fails":           {shipping: repeat(shipDown, 3), reverse: []error{errors.New("reverse down")}},
	}

	for name, sc := range scenarios {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			items := []cart.LineItem{{Name: "book"}, {Name: "book"}, {Name: "pen"}}

			inProcessClient := sc.client()
			inProcess := checkout.NewInProcess(checkout.NewOrchestrator(), activitiesFor(t, inProcessClient))
			inProcessCart := cart.Restore(11, items)
			inProcessResult := inProcess.Checkout(ctx, inProcessCart)

			workflowClient := sc.client()
			engine := newTestEngine(t, NewMemoryLog(), workflowClient)
			workflowCart := cart.Restore(11, items)
			workflowResult := engine.Checkout(ctx, workflowCart)

			require.Equal(t, inProcessResult, workflowResult)
			assert.Equal(t, inProcessCart.Snapshot(), workflowCart.Snapshot())
			assert.Equal(t, inProcessCart.Dirty(), workflowCart.Dirty())
			assert.Equal(t, inProcessClient.Calls(), workflowClient.Calls())
			assert.Equal(t, inProcessClient.Reversals(), workflowClient.Reversals())
		})
	}
}
