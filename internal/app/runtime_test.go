package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	_ "github.com/odyssey-erp/docflow/testing"
)

func TestInTestMode(t *testing.T) {
	assert.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())

	t.Setenv(testModeEnv, "yes")
	RefreshTestMode()
	assert.False(t, InTestMode(), "unparseable values leave test mode off")

	t.Setenv(testModeEnv, "true")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())
}
