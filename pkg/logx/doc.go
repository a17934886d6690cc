// Package logx configures birthdaybot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output stays readable (short timestamp + file:line caller)
//   - the optional file sink is JSON, one event per line
//   - the optional chat sink mirrors WARN+ events into an operator chat,
//     rate limited and never blocking the caller
package logx
