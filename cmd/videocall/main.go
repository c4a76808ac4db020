package main

import "github.com/atultiwari000/video-chat-app-2/internal/cli"

func main() {
	cli.Execute()
}
