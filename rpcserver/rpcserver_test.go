package rpcserver

import (
	"testing"

	"github.com/oscillo/scopewatch/bus"
	"github.com/oscillo/scopewatch/model"
)

func TestConnectEnqueuesCommand(t *testing.T) {
	commands := bus.NewCommandQueue()
	messages := bus.NewMessageQueue()
	ctl := NewControl(commands, messages, false)

	var reply bool
	if err := ctl.Connect(&ConnectArgs{ProbeSelector: "probe-0"}, &reply); err != nil {
		t.Fatal(err)
	}
	if !reply {
		t.Fatal("expected reply true")
	}

	drained := commands.DrainAll()
	if len(drained) != 1 || drained[0].Kind != bus.CmdConnect || drained[0].ProbeSelector != "probe-0" {
		t.Errorf("unexpected command: %+v", drained)
	}
}

func TestWriteVariableAssignsDistinctRequestIDs(t *testing.T) {
	commands := bus.NewCommandQueue()
	messages := bus.NewMessageQueue()
	ctl := NewControl(commands, messages, false)

	var r1, r2 WriteVariableReply
	if err := ctl.WriteVariable(&WriteVariableArgs{VarID: 1, Value: 3.5}, &r1); err != nil {
		t.Fatal(err)
	}
	if err := ctl.WriteVariable(&WriteVariableArgs{VarID: 2, Value: 1.0}, &r2); err != nil {
		t.Fatal(err)
	}
	if r1.RequestID == r2.RequestID {
		t.Errorf("expected distinct request ids, got %d and %d", r1.RequestID, r2.RequestID)
	}
}

func TestPumpMessagesFoldsStatus(t *testing.T) {
	commands := bus.NewCommandQueue()
	messages := bus.NewMessageQueue()
	ctl := NewControl(commands, messages, false)

	messages.Send(bus.Message{Kind: bus.MsgConnectionStatus, Connected: true})
	messages.Send(bus.Message{Kind: bus.MsgVariableList, Variables: []model.Variable{{ID: 1}, {ID: 2}}})

	ctl.pumpMessages()

	var status Status
	if err := ctl.GetStatus(nil, &status); err != nil {
		t.Fatal(err)
	}
	if !status.Connected {
		t.Error("expected Connected true")
	}
	if status.VariableCount != 2 {
		t.Errorf("want VariableCount 2, have %d", status.VariableCount)
	}
}
