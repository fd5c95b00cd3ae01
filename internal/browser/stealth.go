package browser

import (
	"encoding/json"
	"fmt"

	"github.com/Harvey-AU/searchpilot/internal/fingerprint"
)

// stealthJS runs before any page script. It hides the automation flag and
// makes navigator and WebGL agree with the session fingerprint.
const stealthJS = `(fp) => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'platform', { get: () => fp.platform });
	Object.defineProperty(navigator, 'languages', { get: () => fp.languages });
	Object.defineProperty(navigator, 'language', { get: () => fp.languages[0] });

	if (!window.chrome) {
		window.chrome = { runtime: {} };
	}

	const patch = (proto) => {
		if (!proto) return;
		const original = proto.getParameter;
		proto.getParameter = function (param) {
			if (param === 37445) return fp.webglVendor;
			if (param === 37446) return fp.webglRenderer;
			return original.call(this, param);
		};
	};
	patch(window.WebGLRenderingContext && WebGLRenderingContext.prototype);
	patch(window.WebGL2RenderingContext && WebGL2RenderingContext.prototype);

	const query = navigator.permissions && navigator.permissions.query;
	if (query) {
		navigator.permissions.query = (params) =>
			params && params.name === 'notifications'
				? Promise.resolve({ state: Notification.permission })
				: query.call(navigator.permissions, params);
	}
}`

type stealthParams struct {
	Platform      string   `json:"platform"`
	Languages     []string `json:"languages"`
	WebGLVendor   string   `json:"webglVendor"`
	WebGLRenderer string   `json:"webglRenderer"`
}

// stealthScript binds stealthJS to fp as a self-invoking expression
func stealthScript(fp fingerprint.Fingerprint) (string, error) {
	params, err := json.Marshal(stealthParams{
		Platform:      fp.Platform,
		Languages:     fp.Locales,
		WebGLVendor:   fp.WebGLVendor,
		WebGLRenderer: fp.WebGLRenderer,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode fingerprint: %w", err)
	}
	return fmt.Sprintf("(%s)(%s);", stealthJS, params), nil
}
