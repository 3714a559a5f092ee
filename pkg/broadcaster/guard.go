package broadcaster

// orderGuard keeps the delivery order of one wallet's messages. Progress
// blocks of a job are strictly increasing and nothing of a job is
// delivered after its complete or error message. A message of another job
// starts a new sequence.
type orderGuard struct {
	jobID string
	last  uint64
	seen  bool
	done  bool
}

func (g *orderGuard) switchTo(jobID string) {
	if g.jobID == jobID {
		return
	}
	*g = orderGuard{jobID: jobID}
}

// admit reports whether a message may be delivered and records it
func (g *orderGuard) admit(typ MessageType, jobID string, block uint64) bool {
	g.switchTo(jobID)

	switch typ {
	case TypeProgress:
		if g.done || (g.seen && block <= g.last) {
			return false
		}
		g.last = block
		g.seen = true
		return true
	case TypeComplete, TypeError:
		if g.done {
			return false
		}
		if block > g.last {
			g.last = block
		}
		g.done = true
		return true
	default:
		return !g.done
	}
}
