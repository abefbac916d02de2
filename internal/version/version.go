// ABOUTME: Version and product identification
// ABOUTME: Shown in the TUI header and logged at startup
package version

// Version is overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.1.0"

const (
	// Product is the application name
	Product = "Walkie"

	// Manufacturer identifies the publisher
	Manufacturer = "Resonate"
)

// String returns the product and version for display
func String() string {
	return Product + " " + Version
}

// Banner returns the product, version and publisher for -version output
func Banner() string {
	return String() + " by " + Manufacturer
}
