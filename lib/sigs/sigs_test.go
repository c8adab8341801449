package sigs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aachannels/aachan/chain/types"
)

type testMessage struct {
	AmountSpent int64         `json:"amount_spent"`
	Period      int64         `json:"period"`
	Channel     types.Address `json:"channel"`
}

func TestSignVerify(t *testing.T) {
	ctx := context.Background()
	ks := NewKeySigner()
	addr, err := ks.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, addr.Validate())

	pkg, err := Sign(ctx, ks, addr, testMessage{AmountSpent: 1000, Period: 1, Channel: addr})
	require.NoError(t, err)

	signer, err := Verify(pkg)
	require.NoError(t, err)
	require.Equal(t, addr, signer)

	var msg testMessage
	require.NoError(t, pkg.DecodeMessage(&msg))
	require.EqualValues(t, 1000, msg.AmountSpent)
}

func TestVerifyRoundTripThroughWire(t *testing.T) {
	ctx := context.Background()
	ks := NewKeySigner()
	addr, err := ks.GenerateKey()
	require.NoError(t, err)

	pkg, err := Sign(ctx, ks, addr, map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)

	b, err := json.MarshalIndent(pkg, "", "  ")
	require.NoError(t, err)
	decoded, err := DecodeSignedPackage(b)
	require.NoError(t, err)

	signer, err := Verify(decoded)
	require.NoError(t, err)
	require.Equal(t, addr, signer)
}

func TestVerifyRejects(t *testing.T) {
	ctx := context.Background()
	ks := NewKeySigner()
	alice, err := ks.GenerateKey()
	require.NoError(t, err)
	bob, err := ks.GenerateKey()
	require.NoError(t, err)

	fresh := func() *SignedPackage {
		pkg, err := Sign(ctx, ks, alice, testMessage{AmountSpent: 5, Period: 1, Channel: bob})
		require.NoError(t, err)
		return pkg
	}

	t.Run("tampered message", func(t *testing.T) {
		pkg := fresh()
		pkg.SignedMessage = json.RawMessage(`{"amount_spent":6,"period":1,"channel":"` + string(bob) + `"}`)
		_, err := Verify(pkg)
		require.Error(t, err)
	})

	t.Run("claimed by another address", func(t *testing.T) {
		pkg := fresh()
		pkg.Authors[0].Address = bob
		_, err := Verify(pkg)
		require.ErrorContains(t, err, "wrong definition")
	})

	t.Run("two authors", func(t *testing.T) {
		pkg := fresh()
		pkg.Authors = append(pkg.Authors, pkg.Authors[0])
		_, err := Verify(pkg)
		require.Error(t, err)
	})

	t.Run("no definition", func(t *testing.T) {
		pkg := fresh()
		pkg.Authors[0].Definition = nil
		_, err := Verify(pkg)
		require.ErrorContains(t, err, "no definition")
	})

	t.Run("multisig definition", func(t *testing.T) {
		pkg := fresh()
		pkg.Authors[0].Definition = json.RawMessage(`["r of set", {"required": 1, "set": []}]`)
		_, err := Verify(pkg)
		require.ErrorContains(t, err, "unsupported definition")
	})

	t.Run("extra authentifier", func(t *testing.T) {
		pkg := fresh()
		pkg.Authors[0].Authentifiers["r.1"] = pkg.Authors[0].Authentifiers["r"]
		_, err := Verify(pkg)
		require.Error(t, err)
	})

	t.Run("missing message", func(t *testing.T) {
		pkg := fresh()
		pkg.SignedMessage = nil
		_, err := Verify(pkg)
		require.ErrorContains(t, err, "no signed message")
	})

	t.Run("unknown fields", func(t *testing.T) {
		b, err := json.Marshal(fresh())
		require.NoError(t, err)
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(b, &m))
		m["extra"] = true
		b, err = json.Marshal(m)
		require.NoError(t, err)
		_, err = DecodeSignedPackage(b)
		require.Error(t, err)
	})
}

func TestAddressOfIsDeterministic(t *testing.T) {
	a1, err := types.AddressOf(map[string]interface{}{"x": 1, "y": []int{1, 2}})
	require.NoError(t, err)
	a2, err := types.AddressOf(json.RawMessage(`{ "y": [1,2], "x": 1 }`))
	require.NoError(t, err)
	require.Equal(t, a1, a2)
	require.NoError(t, a1.Validate())
}
