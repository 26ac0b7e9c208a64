package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderContactFields(t *testing.T) {
	contact := ContactData{Name: "Budi", Phone: "628111222333", Platform: "whatsapp"}

	out := Render("Hi {name} ({phone}) on {platform}", contact, nil)
	assert.Equal(t, "Hi Budi (628111222333) on whatsapp", out)
}

func TestRenderStaticParams(t *testing.T) {
	contact := ContactData{Name: "Budi"}
	params := map[string]string{"promo": "HEMAT20", "store": "Toko Jaya"}

	out := Render("{name}, use {promo} at {store}", contact, params)
	assert.Equal(t, "Budi, use HEMAT20 at Toko Jaya", out)
}

func TestRenderEmptyValueLeavesToken(t *testing.T) {
	out := Render("Hi {name}", ContactData{}, nil)
	assert.Equal(t, "Hi {name}", out)
}

func TestRenderUnknownTokenLeftIntact(t *testing.T) {
	out := Render("Hi {name}, code {missing}", ContactData{Name: "Budi"}, map[string]string{})
	assert.Equal(t, "Hi Budi, code {missing}", out)
}

func TestRenderRepeatedTokens(t *testing.T) {
	out := Render("{name} {name}", ContactData{Name: "Budi"}, nil)
	assert.Equal(t, "Budi Budi", out)
}
