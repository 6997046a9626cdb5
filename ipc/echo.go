package ipc

// Echo serves the channel as a reference worker: every command read is sent
// straight back with the same verb and groups. It returns nil when the quit
// verb arrives or the peer closes the stream between commands.
func Echo(c *Channel) error {
	for {
		batch, err := c.ReadCommand()
		if err != nil {
			if IsCleanClose(err) {
				return nil
			}
			return err
		}
		if SameVerb(batch.Verb, c.quitVerb) {
			return nil
		}
		if err := c.SendCommand(batch.Verb, batch.Groups...); err != nil {
			return err
		}
	}
}
