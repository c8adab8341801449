package types

// Asset identifies what a channel is denominated in. AssetBase is the native
// currency, any other value is the unit hash that issued the asset.
type Asset string

const AssetBase Asset = "base"

func (a Asset) IsBase() bool {
	return a == AssetBase || a == ""
}

func (a Asset) String() string {
	if a == "" {
		return string(AssetBase)
	}
	return string(a)
}
