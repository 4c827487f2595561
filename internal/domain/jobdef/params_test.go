package jobdef

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseParams(t *testing.T, yaml string) Parameters {
	t.Helper()
	doc, err := Parse(yaml)
	require.NoError(t, err)
	return doc.Parameters
}

func TestParameters_ListOfMaps(t *testing.T) {
	params := parseParams(t, `
parameters:
  - name: Env
    value: prod
  - name: Port
    value: 443
  - name: Verbose
`)
	require.Len(t, params, 3)
	assert.Equal(t, Parameter{Name: "Env", Value: "prod"}, params[0])
	assert.Equal(t, Parameter{Name: "Port", Value: "443"}, params[1], "scalar values are stringified")
	assert.Equal(t, Parameter{Name: "Verbose", Value: ""}, params[2], "missing value means a switch")
}

func TestParameters_ListOfStrings(t *testing.T) {
	params := parseParams(t, `
parameters:
  - "Env=prod"
  - "Message=a=b=c"
  - "positional"
`)
	require.Len(t, params, 3)
	assert.Equal(t, Parameter{Name: "Env", Value: "prod"}, params[0])
	assert.Equal(t, Parameter{Name: "Message", Value: "a=b=c"}, params[1], "split on the first equals only")
	assert.Equal(t, Parameter{Name: "", Value: "positional"}, params[2])
}

func TestParameters_Mapping(t *testing.T) {
	params := parseParams(t, `
parameters:
  Env: prod
  Retries: 3
  DryRun: true
`)
	require.Len(t, params, 3)
	// Mapping shape keeps source order.
	assert.Equal(t, Parameter{Name: "Env", Value: "prod"}, params[0])
	assert.Equal(t, Parameter{Name: "Retries", Value: "3"}, params[1])
	assert.Equal(t, Parameter{Name: "DryRun", Value: "true"}, params[2])
}

func TestParameters_Null(t *testing.T) {
	params := parseParams(t, "parameters:\n")
	assert.Empty(t, params)
}

func TestParameters_RejectsBadShapes(t *testing.T) {
	_, err := Parse("parameters: just-a-string\n")
	require.Error(t, err)

	_, err = Parse("parameters:\n  - name: x\n    value: [not, scalar]\n")
	require.Error(t, err)

	_, err = Parse("parameters:\n  - value: orphaned\n")
	require.Error(t, err, "mapping entries need a name")
}

func TestParameters_CanonicalRender(t *testing.T) {
	doc, err := Parse("type: powershell\ninlineScript: x\nparameters: {Env: prod}\n")
	require.NoError(t, err)

	rendered, err := doc.Render()
	require.NoError(t, err)

	reparsed, err := Parse(rendered)
	require.NoError(t, err)
	require.Len(t, reparsed.Parameters, 1)
	assert.Equal(t, Parameter{Name: "Env", Value: "prod"}, reparsed.Parameters[0])
	assert.Contains(t, rendered, "name: Env", "all shapes render as name/value pairs")
}

func TestParameters_Args(t *testing.T) {
	params := Parameters{
		{Name: "Env", Value: "prod"},
		{Name: "Verbose"},
		{Value: "positional"},
	}
	assert.Equal(t, []string{"-Env", "prod", "-Verbose", "positional"}, params.Args())
	assert.Nil(t, Parameters(nil).Args())
}
