package api

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>vidmark API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <a href="/docs/events" style="
    position: fixed;
    top: 12px;
    right: 16px;
    z-index: 9999;
    background: #161b22;
    border: 1px solid #30363d;
    border-radius: 6px;
    color: #58a6ff;
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    font-size: 12px;
    font-weight: 500;
    padding: 5px 12px;
    text-decoration: none;
  ">Event Stream Docs →</a>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Stream — vidmark</title>
  <style>
    *, *::before, *::after { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
      display: flex;
      flex-direction: column;
      min-height: 100vh;
    }

    a { color: #58a6ff; text-decoration: none; }
    a:hover { text-decoration: underline; }

    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 24px;
      flex-shrink: 0;
    }
    nav .brand {
      font-weight: 600;
      font-size: 15px;
      color: #e6edf3;
    }
    nav .sep { color: #484f58; }
    nav .current { color: #e6edf3; font-weight: 500; }
    nav .back { font-size: 13px; }

    .layout {
      display: flex;
      flex: 1;
      max-width: 1100px;
      width: 100%;
      margin: 0 auto;
      padding: 0 16px;
    }

    aside {
      width: 220px;
      flex-shrink: 0;
      padding: 32px 16px 32px 0;
      position: sticky;
      top: 0;
      height: calc(100vh - 48px);
      overflow-y: auto;
    }
    aside h4 {
      margin: 0 0 8px;
      font-size: 11px;
      font-weight: 600;
      text-transform: uppercase;
      letter-spacing: .08em;
      color: #8b949e;
    }
    aside ul {
      list-style: none;
      margin: 0 0 24px;
      padding: 0;
    }
    aside ul li a {
      display: block;
      padding: 4px 8px;
      border-radius: 4px;
      font-size: 13px;
      color: #8b949e;
    }
    aside ul li a:hover {
      background: #21262d;
      color: #c9d1d9;
      text-decoration: none;
    }

    main {
      flex: 1;
      padding: 32px 0 64px 32px;
      border-left: 1px solid #21262d;
      min-width: 0;
    }

    h1 {
      margin: 0 0 8px;
      font-size: 28px;
      font-weight: 600;
      color: #e6edf3;
    }
    .subtitle {
      color: #8b949e;
      margin: 0 0 36px;
      font-size: 15px;
    }

    h2 {
      margin: 40px 0 12px;
      font-size: 18px;
      font-weight: 600;
      color: #e6edf3;
      padding-bottom: 8px;
      border-bottom: 1px solid #21262d;
    }

    p { margin: 0 0 12px; }

    .endpoint {
      display: inline-flex;
      align-items: center;
      gap: 10px;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 10px 16px;
      margin-bottom: 20px;
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 14px;
    }
    .method {
      background: #1f6feb;
      color: #fff;
      font-weight: 700;
      font-size: 11px;
      padding: 2px 7px;
      border-radius: 4px;
      letter-spacing: .04em;
    }
    .path { color: #e6edf3; }

    table {
      width: 100%;
      border-collapse: collapse;
      margin-bottom: 20px;
      font-size: 13px;
    }
    th {
      text-align: left;
      padding: 8px 12px;
      background: #161b22;
      color: #8b949e;
      font-weight: 600;
      border-bottom: 1px solid #30363d;
    }
    td {
      padding: 8px 12px;
      border-bottom: 1px solid #21262d;
      vertical-align: top;
    }
    tr:last-child td { border-bottom: none; }
    code {
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 12px;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 3px;
      padding: 1px 5px;
      color: #e6edf3;
    }

    pre {
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 16px;
      overflow-x: auto;
      margin: 0 0 20px;
    }
    pre code {
      background: none;
      border: none;
      padding: 0;
      font-size: 13px;
      line-height: 1.6;
      color: #c9d1d9;
    }

    .callout {
      background: #161b22;
      border-left: 3px solid #1f6feb;
      border-radius: 0 6px 6px 0;
      padding: 12px 16px;
      margin-bottom: 20px;
      font-size: 13px;
    }
    .callout.warning { border-color: #d29922; }
    .callout strong { color: #e6edf3; }

    .sse-block {
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 16px;
      margin-bottom: 20px;
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 13px;
      line-height: 1.8;
    }
    .sse-key { color: #79c0ff; }
    .sse-value { color: #a5d6ff; }
    .sse-comment { color: #484f58; }
  </style>
</head>
<body>

<nav>
  <span class="brand">vidmark</span>
  <span class="sep">/</span>
  <span class="current">Event Stream</span>
  <a class="back" href="/docs">← REST API Docs</a>
</nav>

<div class="layout">

  <aside>
    <h4>On this page</h4>
    <ul>
      <li><a href="#overview">Overview</a></li>
      <li><a href="#endpoint">Endpoint</a></li>
      <li><a href="#actions">Message Actions</a></li>
      <li><a href="#sse-format">SSE Event Format</a></li>
      <li><a href="#signals">Trigger Signals</a></li>
      <li><a href="#examples">Examples</a></li>
      <li><a href="#notes">Notes</a></li>
    </ul>
  </aside>

  <main>
    <h1>Event Stream</h1>
    <p class="subtitle">Per-tab UI messages — detection state, playback position, markers — via Server-Sent Events.</p>

    <!-- OVERVIEW -->
    <h2 id="overview">Overview</h2>
    <p>
      The agent watches each tracked browser tab for playable media and pushes every
      state change to the tab's UI surface: media found or lost, playback time while
      a player is live, navigation to a different video, and marker creation.
    </p>
    <p>
      Messages are routed per tab. A subscriber names one tab and only ever receives
      that tab's messages; nothing from other tabs leaks into the stream.
    </p>
    <div class="callout">
      <strong>One subscriber per tab.</strong> Opening a second stream for the same tab
      replaces the first — the older connection's channel is closed and the stream ends.
      The newest consumer always wins.
    </div>

    <!-- ENDPOINT -->
    <h2 id="endpoint">Endpoint</h2>
    <div class="endpoint">
      <span class="method">GET</span>
      <span class="path">/api/v1/events?tab_id={tab_id}</span>
    </div>
    <table>
      <thead>
        <tr><th>Name</th><th>Type</th><th>Required</th><th>Description</th></tr>
      </thead>
      <tbody>
        <tr><td><code>tab_id</code></td><td>string</td><td>yes</td><td>Tab to subscribe to, as listed by <code>GET /api/v1/tabs</code>.</td></tr>
      </tbody>
    </table>

    <!-- ACTIONS -->
    <h2 id="actions">Message Actions</h2>
    <p>Every message carries <code>action</code>, <code>tab_id</code>, and <code>at</code>; the remaining fields depend on the action.</p>
    <table>
      <thead>
        <tr><th>Action</th><th>Extra fields</th><th>Meaning</th></tr>
      </thead>
      <tbody>
        <tr><td><code>media_detected</code></td><td><code>item</code>, <code>url</code>, <code>title</code>, <code>duration</code></td><td>Playable media was identified and its scrubber located. Markers for the item are rendered.</td></tr>
        <tr><td><code>media_lost</code></td><td><code>reason</code></td><td>The player left the DOM or stopped responding. Always sent before the next <code>media_detected</code> on the same tab.</td></tr>
        <tr><td><code>timestamp_update</code></td><td><code>timestamp</code>, <code>duration</code></td><td>Playback position, emitted while media is live.</td></tr>
        <tr><td><code>tab_changed</code></td><td><code>item</code>, <code>url</code>, <code>title</code></td><td>The tab navigated to a different video. Position and recording state reset.</td></tr>
        <tr><td><code>marker_added</code></td><td><code>marker</code></td><td>A new marker record exists for the tab's item, whether created via the REST API or a trigger signal.</td></tr>
        <tr><td><code>clear_ui</code></td><td>—</td><td>The tab's context expired after its stale grace period. Tear down any UI tied to it; the stream closes.</td></tr>
      </tbody>
    </table>

    <!-- SSE FORMAT -->
    <h2 id="sse-format">SSE Event Format</h2>
    <p>The SSE event name duplicates the <code>action</code> field so clients can use named listeners.</p>
    <div class="sse-block">
      <span class="sse-key">event:</span> <span class="sse-value">media_detected</span><br>
      <span class="sse-key">data:</span> <span class="sse-value">{"action":"media_detected","tab_id":"A1B2…","item":{"platform":"youtube","id":"dQw4w9WgXcQ"},"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ","title":"…","duration":212.5,"at":"2025-06-01T12:00:00Z"}</span><br>
      <span class="sse-comment"># blank line terminates the frame</span>
    </div>

    <!-- SIGNALS -->
    <h2 id="signals">Trigger Signals</h2>
    <p>
      An external capture pipeline marks recording spans by posting start/stop signals.
      A start anchors the current (or supplied) playback position; the matching stop
      creates a voice marker at the anchored position and returns it.
    </p>
    <div class="endpoint">
      <span class="method">POST</span>
      <span class="path">/api/v1/tabs/{tab_id}/signal</span>
    </div>
    <pre><code>{"type": "annotation_start", "timestamp": 42.5}   // timestamp optional
{"type": "annotation_stop"}</code></pre>
    <div class="callout warning">
      <strong>Stops must match a start.</strong> An <code>annotation_stop</code> without a
      prior start is rejected, and a stop after the tab navigated to different media is
      rejected too — the anchored position belongs to the old video.
    </div>

    <!-- EXAMPLES -->
    <h2 id="examples">Examples</h2>
    <pre><code># follow a tab's event stream
curl -N "http://localhost:8460/api/v1/events?tab_id=$TAB"

# mark a span while recording narration
curl -X POST "http://localhost:8460/api/v1/tabs/$TAB/signal" \
  -H "Content-Type: application/json" \
  -d '{"type":"annotation_start"}'
curl -X POST "http://localhost:8460/api/v1/tabs/$TAB/signal" \
  -H "Content-Type: application/json" \
  -d '{"type":"annotation_stop"}'</code></pre>

    <!-- NOTES -->
    <h2 id="notes">Notes</h2>
    <p>
      Delivery is fire-and-forget. Each subscriber has a bounded buffer (256 messages);
      a consumer that stops reading has further messages dropped rather than stalling
      the agent. State can always be re-read from <code>GET /api/v1/tabs/{tab_id}/media</code>.
    </p>
    <p>
      Tab contexts survive agent restarts. After a restart the stream resumes once the
      tab is re-tracked; a closed tab goes stale first and expires after a grace period,
      ending with <code>clear_ui</code>.
    </p>
  </main>

</div>

</body>
</html>`
