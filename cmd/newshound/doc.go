// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Newshound is a personal Telegram bot that watches Google News for your
keywords and pushes fresh articles to your chat.

It polls Telegram for commands and, while monitoring is switched on,
periodically searches Google News for every configured keyword, drops
articles it has already delivered and sends the rest, newest first, each
with a read button and a paywall unlock button.

The first person to send /start becomes the owner; everyone else is
ignored. Keywords are edited by sending messages starting with @ (add) or
# (remove), for example:

	@quantum computing, fusion energy
	#fusion energy

The bot keeps all of its state in a single JSON file and refuses to start
while another instance holds the lock file.

The Telegram bot token is read from the TELEGRAM_TOKEN environment
variable.
*/
package main

import (
	_ "embed"

	"newshound/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
