// Command onboardd runs the facility manager onboarding web server and,
// for local development, the dev identity provider.
//
//	onboardd serve
//	onboardd devidp --embedded-redis
//
// Settings come from the environment or a .env file in the working
// directory; see internal/config.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
