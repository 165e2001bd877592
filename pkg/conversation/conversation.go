// Package conversation runs the real-time voice pipeline behind a phone
// call: caller transcripts go to a language model, its reply is split into
// short fragments, fragments are synthesized concurrently, and the audio is
// released to Twilio strictly in order.
//
// The pieces can be used on their own, but most callers want a Session:
//
//	session, err := conversation.NewSession(conversation.Deps{
//	    LLM:   llm,
//	    TTS:   voice,
//	    STT:   recognizer,
//	    Sink:  stream,
//	    Tools: conversation.NewToolset(readDocument),
//	}, conversation.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer session.End("socket closed")
//
//	// On the media stream "start" event:
//	session.Start(ctx, msg.Start.StreamSid, msg.Start.CallSid)
//
//	// On "media" and "mark":
//	session.Media(msg.Media.Payload)
//	session.Mark(msg.Mark.Name)
//
// Barge-in is handled internally: interim speech longer than
// MinBargeInChars while audio is still playing clears Twilio's buffer.
package conversation
