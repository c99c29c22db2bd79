// Command crawl-dispatcher runs the login-bound crawl task dispatcher.
package main

import "github.com/JakeFAU/crawl-dispatcher/cmd"

func main() {
	cmd.Execute()
}
