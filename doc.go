// Package rxserial exposes serial port I/O as push-based observable streams.
//
// A Client owns at most one open port. It sequences port selection,
// opening and configuration, hands out a read stream and a write stream
// backed by the port's exclusive stream locks, and tears everything down
// on Disconnect. Ports come from a Platform: package native drives real
// devices through termios, package serialtest provides an in-memory fake.
//
// # Basic Usage
//
// Connect to the first port the platform offers and print what it sends:
//
//	client, err := rxserial.NewClient(native.New(), logger,
//	    rxserial.WithBaudRate(115200),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Connect(ctx, nil); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(context.Background())
//
//	reads, err := client.ReadStream()
//	sub := reads.SubscribeFuncs(
//	    func(chunk []byte) { os.Stdout.Write(chunk) },
//	    func(err error) { log.Println(err) },
//	    nil,
//	)
//	defer sub.Unsubscribe()
//
// # Writing
//
// Write sends a single chunk. WriteStream drives any observable of chunks
// into the port; subscribing a new write stream ends the previous one:
//
//	err := client.Write(ctx, []byte("AT\r\n"))
//
//	done, err := client.WriteStream(rx.Of([]byte("a"), []byte("b")))
//	done.SubscribeFuncs(nil, onError, onComplete)
//
// # Port Selection
//
// Filters restrict which devices RequestPort offers. A filter names a USB
// vendor id, a product id or both; zero is a valid id:
//
//	client, err := rxserial.NewClient(platform, logger,
//	    rxserial.WithFilters(rxserial.DeviceFilter(0x2341, 0x0043)),
//	)
//
// # Bridges
//
// ReadableToObservable, ObservableToWritable and DriveWritable adapt the
// pull-based streams of package stream to the observables of package rx
// and back. They can be used without a Client.
//
// # Error Handling
//
// Every failure crossing the package boundary is an *Error carrying a Kind:
//
//	if errors.Is(err, rxserial.OperationCancelled) {
//	    // the user dismissed the port picker
//	}
//
// PORT_ALREADY_OPEN and PORT_NOT_OPEN are precondition violations that can
// be avoided by checking Connected first.
//
// # Default Configuration
//
//   - BaudRate: 9600
//   - DataBits: 8
//   - StopBits: 1
//   - Parity: None
//   - BufferSize: 255
//   - FlowControl: None
package rxserial
