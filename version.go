package anvilbridge

// Version is the library version reported in the User-Agent header.
const Version = "1.2.0"

const clientName = "anvil-bridge"

// DefaultUserAgent is sent on every request unless Config.UserAgent overrides it.
func DefaultUserAgent() string {
	return clientName + "/" + Version
}
