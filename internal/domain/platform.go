package domain

// Platform identifies the marketplace a listing was sighted on.
type Platform string

const (
	PlatformEbay          Platform = "ebay"
	PlatformCardmarket    Platform = "cardmarket"
	PlatformVinted        Platform = "vinted"
	PlatformFacebook      Platform = "facebook"
	PlatformMagicMadhouse Platform = "magicmadhouse"
	PlatformChaosCards    Platform = "chaoscards"
)

// String returns the string representation of Platform.
func (p Platform) String() string {
	return string(p)
}

// IsValid checks if the platform is a known value.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformEbay, PlatformCardmarket, PlatformVinted,
		PlatformFacebook, PlatformMagicMadhouse, PlatformChaosCards:
		return true
	}
	return false
}
