package fingerprint

// deviceProfile pairs a user agent with the platform and GPU strings a real
// machine of that kind reports. Fields are never mixed across profiles.
type deviceProfile struct {
	UserAgent     string
	Platform      string
	WebGLVendor   string
	WebGLRenderer string
}

type countryProfile struct {
	Locales  []string
	Timezone string
	Devices  []deviceProfile
}

const defaultCountry = "US"

var (
	windowsIntel = deviceProfile{
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		Platform:      "Win32",
		WebGLVendor:   "Google Inc. (Intel)",
		WebGLRenderer: "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)",
	}
	windowsNvidia = deviceProfile{
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		Platform:      "Win32",
		WebGLVendor:   "Google Inc. (NVIDIA)",
		WebGLRenderer: "ANGLE (NVIDIA, NVIDIA GeForce GTX 1060 6GB Direct3D11 vs_5_0 ps_5_0, D3D11-27.21.14.5671)",
	}
	windowsAMD = deviceProfile{
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Platform:      "Win32",
		WebGLVendor:   "Google Inc. (AMD)",
		WebGLRenderer: "ANGLE (AMD, AMD Radeon RX 580 Series Direct3D11 vs_5_0 ps_5_0, D3D11-30.0.13025.1000)",
	}
	macAppleSilicon = deviceProfile{
		UserAgent:     "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		Platform:      "MacIntel",
		WebGLVendor:   "Google Inc. (Apple)",
		WebGLRenderer: "ANGLE (Apple, ANGLE Metal Renderer: Apple M1, Unspecified Version)",
	}
	macIntel = deviceProfile{
		UserAgent:     "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		Platform:      "MacIntel",
		WebGLVendor:   "Google Inc. (Intel Inc.)",
		WebGLRenderer: "ANGLE (Intel Inc., Intel(R) Iris(TM) Plus Graphics 655, OpenGL 4.1)",
	}
)

var countryProfiles = map[string]countryProfile{
	"US": {
		Locales:  []string{"en-US", "en"},
		Timezone: "America/New_York",
		Devices:  []deviceProfile{windowsIntel, windowsNvidia, windowsAMD, macAppleSilicon},
	},
	"GB": {
		Locales:  []string{"en-GB", "en"},
		Timezone: "Europe/London",
		Devices:  []deviceProfile{windowsIntel, windowsNvidia, macAppleSilicon, macIntel},
	},
	"DE": {
		Locales:  []string{"de-DE", "de", "en"},
		Timezone: "Europe/Berlin",
		Devices:  []deviceProfile{windowsIntel, windowsNvidia, windowsAMD},
	},
	"FR": {
		Locales:  []string{"fr-FR", "fr", "en"},
		Timezone: "Europe/Paris",
		Devices:  []deviceProfile{windowsIntel, windowsAMD, macAppleSilicon},
	},
	"CA": {
		Locales:  []string{"en-CA", "en", "fr-CA"},
		Timezone: "America/Toronto",
		Devices:  []deviceProfile{windowsIntel, windowsNvidia, macIntel},
	},
	"AU": {
		Locales:  []string{"en-AU", "en"},
		Timezone: "Australia/Sydney",
		Devices:  []deviceProfile{windowsIntel, windowsNvidia, windowsAMD, macAppleSilicon},
	},
}

var viewports = []Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1366, Height: 768},
	{Width: 1440, Height: 900},
	{Width: 1536, Height: 864},
	{Width: 1280, Height: 720},
	{Width: 1600, Height: 900},
	{Width: 1280, Height: 800},
}

// Countries lists the country codes with a curated profile table
func Countries() []string {
	return []string{"US", "GB", "DE", "FR", "CA", "AU"}
}
