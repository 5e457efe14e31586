package main

import (
	_ "github.com/eleven-am/voice-live/docs"
	"github.com/eleven-am/voice-live/internal/bootstrap"
)

// @title Voice Live API
// @version 1.0.0
// @description Real-time duplex audio gateway to Gemini Live with session registry and turn history

// @BasePath /

func main() {
	bootstrap.Run()
}
