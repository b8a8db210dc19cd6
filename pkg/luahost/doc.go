// Package luahost embeds Lua realms on top of moduleloader.
//
// Each Realm is a go-lua state whose global require resolves specifiers
// against the module currently being evaluated. A module's chunk runs at most
// once per realm and its return value is handed to every later require of
// the same file:
//
//	host := luahost.NewHost()
//	realm := host.NewRealm(ctx)
//	defer realm.Close()
//	module, err := realm.Import(ctx, "./main.lua")
//
// Closing a realm releases its modules from the shared registry. Shutdown
// releases the modules of every realm.
package luahost
