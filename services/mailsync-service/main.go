package main

import "github.com/stoik/mailvault/services/mailsync-service/internal/app"

func main() {
	app.Execute()
}
