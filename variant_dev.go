//go:build !prod

package scopeplot

func openBrowser(url string) {
	// In dev mode we don't actually want to open the browser.
}
