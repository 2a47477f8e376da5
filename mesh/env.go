package mesh

// Env is the handle a Handler callback uses to talk back to the runtime:
// send further messages, read/write the property bag, and signal that an
// asynchronous lifecycle step has completed. It is the mesh equivalent of
// ten_env in the originating runtime, scoped to a single Extension.
type Env struct {
	ext *Extension
}

// Name returns the owning extension's name.
func (env *Env) Name() string { return env.ext.Name }

// Loc returns the owning extension's location.
func (env *Env) Loc() Location { return env.ext.Loc }

// GetProperty reads a property from the extension's bag by dot/bracket path.
func (env *Env) GetProperty(path string) (*Value, bool) {
	return env.ext.Props.Get(path)
}

// SetProperty writes (cloning val) into the extension's bag at path.
func (env *Env) SetProperty(path string, val *Value) error {
	return env.ext.Props.Set(path, val)
}

// OnConfigureDone signals completion of OnConfigure, advancing
// ON_CONFIGURE -> ON_CONFIGURE_DONE. The thread's lifecycle driver observes
// this state and proceeds to OnInit.
func (env *Env) OnConfigureDone() {
	env.ext.state = ExtStateOnConfigureDone
	if env.ext.thread != nil {
		env.ext.thread.onExtensionLifecycleAdvanced(env.ext)
	}
}

// OnInitDone signals ON_INIT -> ON_INIT_DONE.
func (env *Env) OnInitDone() {
	env.ext.state = ExtStateOnInitDone
	if env.ext.thread != nil {
		env.ext.thread.onExtensionLifecycleAdvanced(env.ext)
	}
}

// OnStartDone signals ON_START -> ON_START_DONE.
func (env *Env) OnStartDone() {
	env.ext.state = ExtStateOnStartDone
	if env.ext.thread != nil {
		env.ext.thread.onExtensionLifecycleAdvanced(env.ext)
	}
}

// OnStopDone signals ON_STOP -> ON_STOP_DONE.
func (env *Env) OnStopDone() {
	env.ext.state = ExtStateOnStopDone
	if env.ext.thread != nil {
		env.ext.thread.onExtensionLifecycleAdvanced(env.ext)
	}
}

// OnDeinitDone signals ON_DEINIT -> ON_DEINIT_DONE, the final transition
// before the extension is eligible for removal from its thread.
func (env *Env) OnDeinitDone() {
	env.ext.state = ExtStateOnDeinitDone
	if env.ext.thread != nil {
		env.ext.thread.onExtensionLifecycleAdvanced(env.ext)
	}
}

// SendCmd sends a command toward its declared destination(s) (or explicit
// dests, if given), registering an out-path so a later cmd_result can be
// routed back to this extension. resultCb is invoked with the settled
// result (after any result-conversion and any fan-out group policy has
// resolved it).
func (env *Env) SendCmd(cmd *Message, resultCb func(result *Message, err error)) error {
	return env.ext.thread.sendFromExtension(env.ext, cmd, resultCb)
}

// SendData sends a data/audio_frame/video_frame message toward its declared
// destination(s); these are fire-and-forget, no path-table entry required.
func (env *Env) SendData(msg *Message) error {
	return env.ext.thread.sendFromExtension(env.ext, msg, nil)
}

// ReturnResult replies to an in-flight command previously delivered to this
// extension via OnCmd, consuming its in-path entry.
func (env *Env) ReturnResult(result *Message, forCmd *Message) error {
	return env.ext.thread.returnResultFromExtension(env.ext, result, forCmd)
}
