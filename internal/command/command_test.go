// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		raw     []any
		verb    string
		argc    int
		wantErr bool
	}{
		{"move", []any{":move-mouse", ":to", float64(400), float64(300)}, ":move-mouse", 3, false},
		{"bare click", []any{":click"}, ":click", 0, false},
		{"empty", []any{}, "", 0, true},
		{"non-string verb", []any{float64(1)}, "", 0, true},
		{"missing colon", []any{"click"}, "", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := Parse(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.verb, cmd.Verb)
			assert.Len(t, cmd.Args, tc.argc)
		})
	}
}

func TestCommandArgAccessors(t *testing.T) {
	cmd := Command{Verb: ":drag", Args: []any{":from", float64(10), 20, ":to", float64(30), float64(40)}}

	s, err := cmd.String(0)
	require.NoError(t, err)
	assert.Equal(t, ":from", s)

	f, err := cmd.Float(1)
	require.NoError(t, err)
	assert.Equal(t, 10.0, f)

	// ints from batch files coerce too
	f, err = cmd.Float(2)
	require.NoError(t, err)
	assert.Equal(t, 20.0, f)

	_, err = cmd.Float(0)
	assert.Error(t, err, "string is not a number")
	_, err = cmd.String(99)
	assert.Error(t, err, "out of range")
}

func TestCommandStrings(t *testing.T) {
	cmd := Command{Verb: ":scroll-wheel-down", Args: []any{float64(5)}}
	assert.Equal(t, []string{":scroll-wheel-down", "5"}, cmd.Strings())
}

func TestDispatchUnknownVerb(t *testing.T) {
	rt := &Runtime{}
	res := Dispatch(context.Background(), rt, Command{Verb: ":does-not-exist"})
	assert.False(t, res.Success())
	assert.Equal(t, "Unknown command: :does-not-exist", res["error"])
}

func TestRegistryCoversVocabulary(t *testing.T) {
	verbs := []string{
		":navigate", ":url", ":back", ":forward",
		":move-mouse",
		":click", ":right-click", ":middle-click",
		":click-hold", ":click-release",
		":right-click-hold", ":right-click-release",
		":middle-click-hold", ":middle-click-release",
		":drag", ":start-drag", ":end-drag",
		":scroll-wheel-up", ":scroll-wheel-down",
		":type", ":keypress", ":wait",
		":width", ":height",
		":print-pdf", ":set-download-path", ":set-upload-file",
		":extract", ":extract-page", ":rabbit-eyes",
	}
	for _, v := range verbs {
		assert.True(t, Known(v), "verb %s not registered", v)
	}
	assert.Len(t, Verbs(), len(verbs))
}

func TestResultHelpers(t *testing.T) {
	r := OK().With("x", 1)
	assert.True(t, r.Success())
	assert.Equal(t, 1, r["x"])

	f := Failf("bad %s", "arg")
	assert.False(t, f.Success())
	assert.Equal(t, "bad arg", f["error"])
}

func TestSplitCombo(t *testing.T) {
	cases := []struct {
		in       string
		mod, key string
		ok       bool
	}{
		{"ctrl-a", "ctrl", "a", true},
		{"shift-tab", "shift", "tab", true},
		{"meta-enter", "meta", "enter", true},
		{"enter", "", "", false},
		{"-a", "", "", false},
		{"ctrl-", "", "", false},
		{"foo-a", "", "", false},
	}
	for _, tc := range cases {
		mod, key, ok := splitCombo(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.mod, mod, tc.in)
			assert.Equal(t, tc.key, key, tc.in)
		}
	}
}

func TestDragCoordsValidation(t *testing.T) {
	good := Command{Verb: ":drag", Args: []any{":from", float64(1), float64(2), ":to", float64(3), float64(4)}}
	coords, res := dragCoords(good, ":from", ":to")
	require.Nil(t, res)
	assert.Equal(t, [4]float64{1, 2, 3, 4}, coords)

	bad := Command{Verb: ":drag", Args: []any{":from", float64(1), float64(2), ":at", float64(3), float64(4)}}
	_, res = dragCoords(bad, ":from", ":to")
	require.NotNil(t, res)
	assert.False(t, res.Success())
}

func TestEndDragWithoutActiveDragIsSoft(t *testing.T) {
	rt := &Runtime{Logger: testLogger()}
	res := handleEndDrag(context.Background(), rt, Command{
		Verb: ":end-drag",
		Args: []any{":from", float64(10), float64(10)},
	})
	assert.True(t, res.Success())
	assert.Equal(t, "no active drag", res["warning"])
}

func TestMoveMouseRejectsBadForm(t *testing.T) {
	rt := &Runtime{}
	res := handleMoveMouse(context.Background(), rt, Command{Verb: ":move-mouse", Args: []any{float64(1), float64(2)}})
	assert.False(t, res.Success())
}

func TestScrollZeroCountIsNoOp(t *testing.T) {
	rt := &Runtime{}
	h := handleScroll(1)
	res := h(context.Background(), rt, Command{Verb: ":scroll-wheel-down", Args: []any{float64(0)}})
	assert.True(t, res.Success())
	assert.Equal(t, 0, res["count"])
}

func TestScrollRejectsNegativeCount(t *testing.T) {
	rt := &Runtime{}
	h := handleScroll(1)
	res := h(context.Background(), rt, Command{Verb: ":scroll-wheel-down", Args: []any{float64(-2)}})
	assert.False(t, res.Success())
}

func TestPrintPDFRejectsUnknownMode(t *testing.T) {
	rt := &Runtime{}
	res := handlePrintPDF(context.Background(), rt, Command{Verb: ":print-pdf", Args: []any{"maybe"}})
	assert.False(t, res.Success())
}

func TestRabbitEyesWithoutEndpoint(t *testing.T) {
	rt := &Runtime{}
	res := handleRabbitEyes(context.Background(), rt, Command{Verb: ":rabbit-eyes", Args: []any{"what is this"}})
	assert.False(t, res.Success())
}
