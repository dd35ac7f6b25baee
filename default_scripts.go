// Package blectl embeds the example Lua scenarios shipped with the tool.
package blectl

import (
	_ "embed"
	"sort"
)

//go:embed examples/connect.lua
var ConnectLuaScript string

//go:embed examples/peripheral.lua
var PeripheralLuaScript string

// ExampleScripts maps example names to their source.
var ExampleScripts = map[string]string{
	"connect":    ConnectLuaScript,
	"peripheral": PeripheralLuaScript,
}

// ExampleNames returns the example names in order.
func ExampleNames() []string {
	names := make([]string, 0, len(ExampleScripts))
	for name := range ExampleScripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
