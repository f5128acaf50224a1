package primary

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"padbridge/internal/devicemon"
	"padbridge/internal/ipc"
	"padbridge/internal/logging"
	"padbridge/internal/slotstore"
)

var folder = cases.Fold()

// Slot query properties.
const (
	PropProfileName   = "profilename"
	PropActiveProfile = "activeprofile"
	PropTempProfile   = "tempprofile"
	PropConnected     = "connected"
)

// Query resources that are not slots.
const (
	ResourceStatus   = "status"
	ResourceEndpoint = "endpoint"
)

// HandleQuery answers a query through the result exchange.
func (p *Primary) HandleQuery(ctx context.Context, cmd ipc.Command) {
	p.handled.Add(1)
	answer := p.answer(cmd.Resource)
	p.logger.Debug("query answered",
		logging.String(logging.FieldResource, cmd.Resource),
		logging.String("answer", answer))
	if err := p.responder.Respond(answer); err != nil {
		logging.WarnWithContext(p.logger, "failed to deliver query result", "query_respond_failed",
			logging.String(logging.FieldResource, cmd.Resource),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the client receives an empty answer"))
		p.journal(ctx, cmd, slotstore.OutcomeRejected, err.Error())
		return
	}
	p.journal(ctx, cmd, slotstore.OutcomeApplied, "")
}

// answer resolves a query resource against current state. Unknown resources
// answer "".
func (p *Primary) answer(resource string) string {
	key := folder.String(strings.TrimSpace(resource))
	switch key {
	case ResourceStatus:
		return p.statusLine()
	case ResourceEndpoint:
		return p.publisher.Token()
	}

	head, prop, hasProp := strings.Cut(key, ".")
	index, err := strconv.Atoi(head)
	if err != nil {
		return ""
	}
	slot, ok := p.slots.Get(index)
	if !ok {
		return ""
	}
	if !hasProp {
		return slot.ActiveProfile()
	}
	switch prop {
	case PropProfileName:
		return slot.Profile
	case PropActiveProfile:
		return slot.ActiveProfile()
	case PropTempProfile:
		return slot.TempProfile
	case PropConnected:
		return strconv.FormatBool(slot.Connected)
	default:
		return ""
	}
}

func (p *Primary) statusLine() string {
	state := "stopped"
	if p.active {
		state = "running"
	}
	return fmt.Sprintf("%s slots=%d connected=%d handled=%d", state, p.slots.Len(), p.slots.Connected(), p.handled.Load())
}

// HandleCommand applies a generic command.
func (p *Primary) HandleCommand(ctx context.Context, cmd ipc.Command) {
	p.handled.Add(1)
	logger := p.logger.With(logging.String(logging.FieldCommand, cmd.Verb))

	outcome, err := p.apply(ctx, cmd)
	if err != nil {
		logging.WarnWithContext(logger, "command rejected", "command_rejected",
			logging.String("payload", cmd.Raw),
			logging.Error(err),
			logging.String(logging.FieldImpact, "slot state unchanged"))
		p.journal(ctx, cmd, slotstore.OutcomeRejected, err.Error())
		return
	}
	p.journal(ctx, cmd, outcome, "")
}

func (p *Primary) apply(ctx context.Context, cmd ipc.Command) (slotstore.Outcome, error) {
	switch cmd.Verb {
	case ipc.VerbPing:
		p.logger.Debug("ping received")
	case ipc.VerbStart:
		if p.active {
			return slotstore.OutcomeDropped, nil
		}
		p.active = true
		p.logger.Info("controller service started", logging.String(logging.FieldEventType, "service_started"))
	case ipc.VerbStop:
		if !p.active {
			return slotstore.OutcomeDropped, nil
		}
		p.active = false
		n := p.slots.DisconnectAll()
		p.logger.Info("controller service stopped",
			logging.String(logging.FieldEventType, "service_stopped"),
			logging.Int("disconnected", n))
	case ipc.VerbShutdown:
		p.logger.Info("shutdown requested", logging.String(logging.FieldEventType, "shutdown_requested"))
		p.requestShutdown()
	case ipc.VerbShow:
		p.foreground()
	case ipc.VerbCycle:
		p.slots.Cycle()
		p.persist(ctx, p.slots.All()...)
		p.logger.Info("slot profiles cycled")
	case ipc.VerbLoadProfile, ipc.VerbLoadTempProfile:
		index, err := slotArg(cmd.Args[0])
		if err != nil {
			return "", err
		}
		if cmd.Verb == ipc.VerbLoadProfile {
			err = p.slots.LoadProfile(index, cmd.Args[1])
		} else {
			err = p.slots.LoadTempProfile(index, cmd.Args[1])
		}
		if err != nil {
			return "", err
		}
		slot, _ := p.slots.Get(index)
		if cmd.Verb == ipc.VerbLoadProfile {
			p.persist(ctx, slot)
		}
		p.logger.Info("profile loaded",
			logging.Slot(index),
			logging.String("profile", slot.ActiveProfile()),
			logging.Bool("temporary", slot.TempProfile != ""))
	case ipc.VerbDisconnect:
		index, err := slotArg(cmd.Args[0])
		if err != nil {
			return "", err
		}
		prev, err := p.slots.Disconnect(index)
		if err != nil {
			return "", err
		}
		if !prev.Connected {
			return slotstore.OutcomeDropped, nil
		}
		p.logger.Info("controller disconnected", logging.Slot(index), logging.String("device", prev.Device))
	default:
		return "", fmt.Errorf("unhandled verb %q", cmd.Verb)
	}
	return slotstore.OutcomeApplied, nil
}

func slotArg(raw string) (int, error) {
	index, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a slot number", errSlotRange, raw)
	}
	return index, nil
}

// onDevice runs on the dispatch goroutine for each hotplug event.
func (p *Primary) onDevice(evt devicemon.Event) {
	switch evt.Action {
	case devicemon.Added:
		if !p.active {
			p.logger.Debug("controller ignored while service stopped", logging.String("device", evt.Device))
			return
		}
		index, err := p.slots.Attach(evt.Device)
		if err != nil {
			logging.WarnWithContext(p.logger, "controller not assigned", "slot_attach_failed",
				logging.String("device", evt.Device),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the controller stays unmapped"))
			return
		}
		p.logger.Info("controller connected", logging.Slot(index), logging.String("device", evt.Device))
	case devicemon.Removed:
		index, err := p.slots.Detach(evt.Device)
		if err != nil {
			p.logger.Debug("removed device had no slot", logging.String("device", evt.Device))
			return
		}
		p.logger.Info("controller removed", logging.Slot(index), logging.String("device", evt.Device))
	}
}
