package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTotalAmount(t *testing.T) {
	req := &PaymentSessionRequest{}
	assert.Zero(t, req.TotalAmount())

	req.Items = []PaymentItem{
		{ID: "p1", Price: 19.99, Quantity: 2},
		{ID: "p2", Price: 5.00, Quantity: 3},
	}
	assert.InDelta(t, 54.98, req.TotalAmount(), 0.001)
}
