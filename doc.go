// Package addrscore classifies blockchain addresses as illicit or licit
// from a fixed vector of 66 numeric features, in process.
//
// The classifier is an ONNX graph embedded in the binary. It is decoded,
// optimized and compiled once, on New, and shared by every call.
//
//	client, err := addrscore.New(ctx, addrscore.WithLogger(slog.Default()))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	res := client.PredictAddress(ctx, "0.1,0.2,...") // 66 values
//	if res.Failure != nil {
//	    return errors.New(res.Failure.Message)
//	}
//	fmt.Println(res.Success.Probability, res.Success.IsIllicit)
//
// Verdicts are cached in process by default. WithRedis and WithValkey share
// the cache between processes; WithCacheSize(0) disables it.
package addrscore
