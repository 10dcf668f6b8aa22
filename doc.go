// Package canmotion bridges an operator interface and a two-wheeled robot's
// motion control board over CAN.
//
// An Adapter programs PID gains and limits, turns movement orders into
// debounced mode-select and move frames, and decodes encoder telemetry into
// millimetre positions and smoothed speeds that it pushes to a Sink.
//
//	a, err := canmotion.New(canmotion.Config{
//		Dialer: canbus.SocketCANDialer("can0"),
//		Sink:   sink,
//	})
//	if err != nil { ... }
//	if err := a.Start(ctx); err != nil { ... }
//	defer a.Close()
//	err = a.SubmitOrder(ctx, canmotion.OrderSpeed(200))
package canmotion
