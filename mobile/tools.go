//go:build tools

package mobile

// gomobile bind resolves golang.org/x/mobile/bind from this module's go.mod.
import _ "golang.org/x/mobile/bind"
