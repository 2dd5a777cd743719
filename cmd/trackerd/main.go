// trackerd is the live route-tracking relay server. It serves the route
// catalog REST API, the observer websocket and the position ingress.
package main

import "os"

func main() {
	deps := defaultCommandDeps()
	cmd, args := resolveCommand(os.Args[1:], deps)
	os.Exit(cmd.Run(args))
}
